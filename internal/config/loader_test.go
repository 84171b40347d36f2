package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearVehicleEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"VEHICLE_ID", "LOG_LEVEL", "VEHICLED_LISTEN", "VEHICLED_API_KEY",
		"EXECUTION_TIMEOUT", "MOTOR_MAX_SPEED", "SERVO_MAX_ANGLE", "VEHICLED_CONFIG"} {
		if val, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, val) })
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
vehicle:
  id: car-7
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "car-7", cfg.Vehicle.ID)
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.Equal(t, 30*time.Second, cfg.Execution.DefaultTimeout)
				assert.Equal(t, 5*time.Second, cfg.Execution.WaitCeiling)
				assert.Equal(t, 80, cfg.Hardware.MaxSpeed)
				assert.Equal(t, "simulator", cfg.Hardware.Driver)
				assert.True(t, cfg.API.Enabled)
				assert.True(t, cfg.Execution.StopsOnFault())
				assert.Len(t, cfg.SourceHash, 64)
			},
		},
		{
			name: "explicit execution settings",
			yaml: `
execution:
  default_timeout: 10s
  max_timeout: 1m
  wait_ceiling: 2s
  abandon_grace: 500ms
  max_steps: 1000000
  stop_on_fault: false
hardware:
  max_speed: 60
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10*time.Second, cfg.Execution.DefaultTimeout)
				assert.Equal(t, time.Minute, cfg.Execution.MaxTimeout)
				assert.Equal(t, 2*time.Second, cfg.Execution.WaitCeiling)
				assert.Equal(t, 500*time.Millisecond, cfg.Execution.AbandonGrace)
				assert.Equal(t, uint64(1000000), cfg.Execution.MaxSteps)
				assert.False(t, cfg.Execution.StopsOnFault())
				assert.Equal(t, 60, cfg.Hardware.MaxSpeed)
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  listen: 127.0.0.1:9000
  auth:
    api_key: ${TEST_VEHICLE_KEY}
`,
			env: map[string]string{"TEST_VEHICLE_KEY": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "s3cret", cfg.API.Auth.APIKey)
				assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
			},
		},
		{
			name: "unresolved api key",
			yaml: `
api:
  enabled: true
  listen: 127.0.0.1:9000
  auth:
    api_key: ${TEST_VEHICLE_KEY_MISSING}
`,
			wantErr: "TEST_VEHICLE_KEY_MISSING",
		},
		{
			name: "legacy environment overrides",
			yaml: `
vehicle:
  id: from-file
`,
			env: map[string]string{
				"VEHICLE_ID":        "from-env",
				"EXECUTION_TIMEOUT": "45",
				"MOTOR_MAX_SPEED":   "50",
				"LOG_LEVEL":         "DEBUG",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Vehicle.ID)
				assert.Equal(t, 45*time.Second, cfg.Execution.DefaultTimeout)
				assert.Equal(t, 50, cfg.Hardware.MaxSpeed)
				assert.Equal(t, "debug", cfg.Service.LogLevel)
			},
		},
		{
			name:    "bad timeout env",
			yaml:    "vehicle:\n  id: a\n",
			env:     map[string]string{"EXECUTION_TIMEOUT": "soon"},
			wantErr: "EXECUTION_TIMEOUT",
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: chatty\n",
			wantErr: "service.log_level",
		},
		{
			name:    "unknown driver",
			yaml:    "hardware:\n  driver: pca9685\n",
			wantErr: "hardware.driver",
		},
		{
			name: "max timeout below default",
			yaml: `
execution:
  default_timeout: 1m
  max_timeout: 30s
`,
			wantErr: "execution.max_timeout",
		},
		{
			name:    "malformed yaml",
			yaml:    "vehicle: [",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearVehicleEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	clearVehicleEnv(t)
	path := writeConfig(t, "vehicle:\n  id: dir-car\n")

	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "dir-car", cfg.Vehicle.ID)
	assert.Equal(t, path, cfg.SourceFile)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadOrDefaultUsesEnvPath(t *testing.T) {
	clearVehicleEnv(t)
	path := writeConfig(t, "vehicle:\n  id: discovered\n")
	t.Setenv("VEHICLED_CONFIG", path)

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "discovered", cfg.Vehicle.ID)
}

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}

func TestComputeBlake3Hash(t *testing.T) {
	path := writeConfig(t, "vehicle:\n  id: hashed\n")

	first, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	second, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte("vehicle:\n  id: changed\n"), 0o644))
	third, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, third, cfg.SourceHash)
}
