package config

import "fmt"

// Validate checks a programmatically built Config.
func Validate(cfg *Config) error {
	return validate(cfg)
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Vehicle.ID == "" {
		return fmt.Errorf("vehicle.id is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			if len(matches) > 1 {
				return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
			}
			return fmt.Errorf("api.auth.api_key: unresolved environment variable")
		}
		if cfg.API.MaxBodyBytes < 0 {
			return fmt.Errorf("api.max_body_bytes must not be negative")
		}
	}

	exec := cfg.Execution
	if exec.DefaultTimeout <= 0 {
		return fmt.Errorf("execution.default_timeout must be positive")
	}
	if exec.MaxTimeout < exec.DefaultTimeout {
		return fmt.Errorf("execution.max_timeout (%s) must be >= execution.default_timeout (%s)",
			exec.MaxTimeout, exec.DefaultTimeout)
	}
	if exec.WaitCeiling <= 0 {
		return fmt.Errorf("execution.wait_ceiling must be positive")
	}
	if exec.AbandonGrace < 0 {
		return fmt.Errorf("execution.abandon_grace must not be negative")
	}
	if exec.MaxSourceBytes <= 0 {
		return fmt.Errorf("execution.max_source_bytes must be positive")
	}
	if exec.MaxOutputLines <= 0 {
		return fmt.Errorf("execution.max_output_lines must be positive")
	}

	hw := cfg.Hardware
	if hw.Driver != "simulator" {
		return fmt.Errorf("hardware.driver %q is not available (supported: simulator)", hw.Driver)
	}
	if hw.MaxSpeed <= 0 || hw.MaxSpeed > 100 {
		return fmt.Errorf("hardware.max_speed must be in 1..100 (got %d)", hw.MaxSpeed)
	}
	if hw.ServoMaxAngle <= 0 || hw.ServoMaxAngle > 360 {
		return fmt.Errorf("hardware.servo_max_angle must be in 1..360 (got %d)", hw.ServoMaxAngle)
	}
	if hw.GimbalStep <= 0 || hw.GimbalStep > 90 {
		return fmt.Errorf("hardware.gimbal_step must be in 1..90 (got %d)", hw.GimbalStep)
	}

	return nil
}
