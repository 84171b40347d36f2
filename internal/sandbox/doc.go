// Package sandbox compiles and runs vehicle scripts.
//
// Scripts are Starlark, a Python dialect close enough to what the block
// editor generates. Compile parses a script under a construct allow-list and
// rejects what the grammar alone would let through (load statements,
// underscore attributes, reflective builtins). Every free name is resolved
// against a Namespace built per execution, so an undefined name surfaces as a
// runtime fault at the point of use rather than at compile time.
//
// BuildNamespace binds, in order: allow-listed builtins, the provider's
// capabilities under their canonical names, aliases sharing the same builtin
// object, a bounded wait and the print primitive. Nothing else is reachable
// from a script: there is no file, network, process or reflection surface.
//
// Engine runs one script at a time on a worker goroutine bounded by a
// timeout. Cancellation is cooperative: on timeout or interrupt the
// execution's Token is tripped, the interpreter stops at its next step, and
// every capability call checks the token first and halts the motors instead
// of actuating. A worker blocked inside a capability cannot be preempted;
// it is tracked as abandoned until it returns.
package sandbox
