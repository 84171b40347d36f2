package config

import "time"

// Config represents the complete vehicled configuration.
type Config struct {
	Vehicle   VehicleConfig   `yaml:"vehicle"`
	Service   ServiceConfig   `yaml:"service"`
	API       APIConfig       `yaml:"api,omitempty"`
	Execution ExecutionConfig `yaml:"execution"`
	Hardware  HardwareConfig  `yaml:"hardware"`

	// SourceFile is the absolute path the config was loaded from, empty for defaults.
	SourceFile string `yaml:"-"`
	// SourceHash is the BLAKE3 digest of SourceFile.
	SourceHash string `yaml:"-"`
}

// VehicleConfig identifies the vehicle this daemon drives.
type VehicleConfig struct {
	ID string `yaml:"id"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	LogLevel string `yaml:"log_level"`
	// LockPath is the flock file guarding exclusive access to the motors.
	LockPath string `yaml:"lock_path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	// MaxBodyBytes caps the request body of POST /api/execute.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token. Empty disables authentication.
	APIKey string `yaml:"api_key"`
}

// ExecutionConfig bounds script execution.
type ExecutionConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	// WaitCeiling clamps dengdai/wait/time.sleep.
	WaitCeiling time.Duration `yaml:"wait_ceiling"`
	// AbandonGrace is how long a new execution waits for a timed-out worker to exit.
	AbandonGrace   time.Duration `yaml:"abandon_grace"`
	MaxSteps       uint64        `yaml:"max_steps"`
	MaxSourceBytes int           `yaml:"max_source_bytes"`
	MaxOutputLines int           `yaml:"max_output_lines"`
	StopOnFault    *bool         `yaml:"stop_on_fault,omitempty"`
}

// HardwareConfig selects and bounds the capability provider.
type HardwareConfig struct {
	// Driver names the provider implementation. Only "simulator" ships.
	Driver        string  `yaml:"driver"`
	MaxSpeed      int     `yaml:"max_speed"`
	ServoMaxAngle int     `yaml:"servo_max_angle"`
	GimbalStep    int     `yaml:"gimbal_step"`
	Battery       float64 `yaml:"battery"`
	LowBattery    float64 `yaml:"low_battery"`
	DistanceMM    int     `yaml:"distance_mm"`
}

// StopsOnFault reports whether a runtime fault should halt the motors.
func (e ExecutionConfig) StopsOnFault() bool {
	return e.StopOnFault == nil || *e.StopOnFault
}

// Defaults returns a Config with default values applied.
func Defaults() *Config {
	return &Config{
		Vehicle: VehicleConfig{
			ID: "vehicle-001",
		},
		Service: ServiceConfig{
			LogLevel: "info",
			LockPath: "./data/vehicled.lock",
		},
		API: APIConfig{
			Enabled:      true,
			Listen:       "0.0.0.0:8000",
			MaxBodyBytes: 256 << 10,
		},
		Execution: ExecutionConfig{
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     5 * time.Minute,
			WaitCeiling:    5 * time.Second,
			AbandonGrace:   2 * time.Second,
			MaxSteps:       0,
			MaxSourceBytes: 64 << 10,
			MaxOutputLines: 10000,
		},
		Hardware: HardwareConfig{
			Driver:        "simulator",
			MaxSpeed:      80,
			ServoMaxAngle: 180,
			GimbalStep:    10,
			Battery:       7.4,
			LowBattery:    6.8,
			DistanceMM:    1000,
		},
	}
}
