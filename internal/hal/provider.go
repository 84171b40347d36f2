package hal

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks github.com/blockcar/vehicled/internal/hal Provider

// ErrInvalidArgument is wrapped by capabilities rejecting an argument outright
// (as opposed to clamping it).
var ErrInvalidArgument = errors.New("invalid argument")

// Func runs a capability. args has exactly one entry per declared Param,
// already converted to the Param's Kind (int, float64 or string).
type Func func(ctx context.Context, args []any) (any, error)

// Capability is a Spec bound to a provider's implementation.
type Capability struct {
	Spec
	Call Func
}

// Provider is the hardware binding layer. Implementations must make Stop
// idempotent and safe to call from any goroutine at any time.
type Provider interface {
	// Lookup returns the capability registered under a canonical name.
	Lookup(name string) (Capability, bool)
	// Stop halts all motors.
	Stop() error
}

// SensorReader is implemented by providers that can report a status snapshot
// without going through a script.
type SensorReader interface {
	Snapshot() Snapshot
}

// Snapshot is a point-in-time view of the vehicle for status reporting.
type Snapshot struct {
	DistanceMM  int      `json:"distance_mm"`
	LineSensors [4]bool  `json:"line_sensors"`
	Battery     float64  `json:"battery_voltage"`
	BatteryLow  bool     `json:"battery_low"`
	Motors      [4]int   `json:"motor_speeds"`
	Servos      [6]int   `json:"servo_angles"`
	GimbalPan   int      `json:"gimbal_pan"`
	GimbalTilt  int      `json:"gimbal_tilt"`
	Stops       int      `json:"stop_count"`
	Colors      []string `json:"visible_colors,omitempty"`
}
