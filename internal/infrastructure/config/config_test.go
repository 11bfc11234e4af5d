package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, 1, cfg.Kernel.CPUs)
	assert.Equal(t, 64, cfg.Kernel.StackWords)
	assert.Equal(t, 1024, cfg.Kernel.MaxThreads)
	assert.Equal(t, 10*time.Millisecond, cfg.Kernel.Tick)

	assert.Equal(t, uint64(64<<20), cfg.Heap.MaxBytes)

	assert.False(t, cfg.Supervisor.Restart)
	assert.Equal(t, 3, cfg.Supervisor.MaxFailures)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                     "9000",
		"HOST":                     "127.0.0.1",
		"KERNEL_CPUS":              "4",
		"KERNEL_STACK_WORDS":       "1024",
		"KERNEL_MAX_THREADS":       "64",
		"KERNEL_TICK":              "5ms",
		"HEAP_MAX_BYTES":           "1048576",
		"SUPERVISOR_RESTART":       "true",
		"SUPERVISOR_MAX_FAILURES":  "5",
		"SUPERVISOR_RESET_TIMEOUT": "1m",
		"LOG_LEVEL":                "debug",
		"LOG_DEV":                  "true",
		"RATE_LIMIT_RPS":           "500",
		"RATE_LIMIT_BURST":         "1000",
		"RATE_LIMIT_ENABLED":       "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 4, cfg.Kernel.CPUs)
	assert.Equal(t, 1024, cfg.Kernel.StackWords)
	assert.Equal(t, 64, cfg.Kernel.MaxThreads)
	assert.Equal(t, 5*time.Millisecond, cfg.Kernel.Tick)
	assert.Equal(t, uint64(1<<20), cfg.Heap.MaxBytes)
	assert.True(t, cfg.Supervisor.Restart)
	assert.Equal(t, 5, cfg.Supervisor.MaxFailures)
	assert.Equal(t, time.Minute, cfg.Supervisor.ResetTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable cpus", "KERNEL_CPUS", "many"},
		{"zero cpus", "KERNEL_CPUS", "0"},
		{"zero stack", "KERNEL_STACK_WORDS", "0"},
		{"arena too small", "KERNEL_MAX_THREADS", "1"},
		{"empty heap", "HEAP_MAX_BYTES", "0"},
		{"bad tick", "KERNEL_TICK", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}

func TestServerConfig(t *testing.T) {
	tests := []struct {
		name     string
		port     string
		host     string
		wantPort string
		wantHost string
	}{
		{name: "default values", wantPort: "8000", wantHost: "0.0.0.0"},
		{name: "custom port", port: "9000", wantPort: "9000", wantHost: "0.0.0.0"},
		{name: "custom host", host: "localhost", wantPort: "8000", wantHost: "localhost"},
		{name: "custom port and host", port: "3000", host: "127.0.0.1", wantPort: "3000", wantHost: "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.port != "" {
				t.Setenv("PORT", tt.port)
			}
			if tt.host != "" {
				t.Setenv("HOST", tt.host)
			}

			cfg := LoadOrDefault()

			assert.Equal(t, tt.wantPort, cfg.Server.Port)
			assert.Equal(t, tt.wantHost, cfg.Server.Host)
		})
	}
}

func writeBootFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileOverlaysEnvironment(t *testing.T) {
	t.Setenv("KERNEL_CPUS", "2")
	t.Setenv("LOG_LEVEL", "warn")
	path := writeBootFile(t, `
kernel:
  cpus: 4
  tick: 5ms
supervisor:
  restart: true
tracing:
  retain: 32
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Kernel.CPUs)
	assert.Equal(t, 5*time.Millisecond, cfg.Kernel.Tick)
	assert.Equal(t, 64, cfg.Kernel.StackWords)
	assert.True(t, cfg.Supervisor.Restart)
	assert.Equal(t, 3, cfg.Supervisor.MaxFailures)
	assert.Equal(t, 32, cfg.Tracing.Retain)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "kernel:\n  cores: 4\n"},
		{"invalid value", "kernel:\n  cpus: 0\n"},
		{"not yaml", "kernel: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeBootFile(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
