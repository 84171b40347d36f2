package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, applies defaults and
// environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}

	cfg = applyConfigDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.SourceFile = absPath
	cfg.SourceHash = hashBytes(data)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when given, otherwise the first discovered
// config file. With nothing discovered it returns validated defaults plus
// environment overrides.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		found, err := DiscoverConfigPath()
		if err != nil {
			cfg := Defaults()
			if err := applyEnvOverrides(cfg); err != nil {
				return nil, err
			}
			if err := validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		configPath = found
	}
	return Load(configPath)
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $VEHICLED_CONFIG, ~/.config/vehicled/config.yaml, /etc/vehicled/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("VEHICLED_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "vehicled", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/vehicled/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	localConfig := "./config.yaml"
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $VEHICLED_CONFIG, ~/.config/vehicled, /etc/vehicled, ./config.yaml)")
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Vehicle.ID == "" {
		cfg.Vehicle.ID = defaults.Vehicle.ID
	}

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = defaults.API.MaxBodyBytes
	}

	exec := &cfg.Execution
	if exec.DefaultTimeout == 0 {
		exec.DefaultTimeout = defaults.Execution.DefaultTimeout
	}
	if exec.MaxTimeout == 0 {
		exec.MaxTimeout = defaults.Execution.MaxTimeout
	}
	if exec.WaitCeiling == 0 {
		exec.WaitCeiling = defaults.Execution.WaitCeiling
	}
	if exec.AbandonGrace == 0 {
		exec.AbandonGrace = defaults.Execution.AbandonGrace
	}
	if exec.MaxSourceBytes == 0 {
		exec.MaxSourceBytes = defaults.Execution.MaxSourceBytes
	}
	if exec.MaxOutputLines == 0 {
		exec.MaxOutputLines = defaults.Execution.MaxOutputLines
	}

	hw := &cfg.Hardware
	if hw.Driver == "" {
		hw.Driver = defaults.Hardware.Driver
	}
	if hw.MaxSpeed == 0 {
		hw.MaxSpeed = defaults.Hardware.MaxSpeed
	}
	if hw.ServoMaxAngle == 0 {
		hw.ServoMaxAngle = defaults.Hardware.ServoMaxAngle
	}
	if hw.GimbalStep == 0 {
		hw.GimbalStep = defaults.Hardware.GimbalStep
	}
	if hw.Battery == 0 {
		hw.Battery = defaults.Hardware.Battery
	}
	if hw.LowBattery == 0 {
		hw.LowBattery = defaults.Hardware.LowBattery
	}
	if hw.DistanceMM == 0 {
		hw.DistanceMM = defaults.Hardware.DistanceMM
	}

	return cfg
}

// applyEnvOverrides honours the environment variables the vehicle image has
// always been configured with. They win over file values.
func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("VEHICLE_ID"); ok && v != "" {
		cfg.Vehicle.ID = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.Service.LogLevel = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("VEHICLED_LISTEN"); ok && v != "" {
		cfg.API.Listen = v
	}
	if v, ok := os.LookupEnv("VEHICLED_API_KEY"); ok {
		cfg.API.Auth.APIKey = v
	}
	if v, ok := os.LookupEnv("EXECUTION_TIMEOUT"); ok && v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("EXECUTION_TIMEOUT: %w", err)
		}
		cfg.Execution.DefaultTimeout = d
	}
	if v, ok := os.LookupEnv("MOTOR_MAX_SPEED"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MOTOR_MAX_SPEED: %w", err)
		}
		cfg.Hardware.MaxSpeed = n
	}
	if v, ok := os.LookupEnv("SERVO_MAX_ANGLE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVO_MAX_ANGLE: %w", err)
		}
		cfg.Hardware.ServoMaxAngle = n
	}
	return nil
}

// parseSeconds accepts either a Go duration ("45s") or a bare number of seconds ("45").
func parseSeconds(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
