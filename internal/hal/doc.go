// Package hal is the hardware binding layer seen by vehicle scripts.
//
// A Provider exposes named capabilities (motion, sensing, gimbal, vision)
// plus a mandatory Stop that halts all motors. The sandbox binds whatever a
// provider offers into a script's namespace and never talks to hardware any
// other way.
//
// Capability names follow the block editor's pinyin vocabulary (qianjin,
// houtui, heshengbo, ...). Catalog lists every name the sandbox knows how to
// bind, with parameter kinds and defaults, and Aliases lists the readable
// names that share a canonical capability's implementation.
//
// Simulator is the only Provider that ships. It keeps motor, servo and
// gimbal state in memory and returns settable sensor readings.
package hal
