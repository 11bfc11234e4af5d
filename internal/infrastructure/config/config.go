package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kernel     KernelConfig     `yaml:"kernel"`
	Heap       HeapConfig       `yaml:"heap"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Logging    LogConfig        `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig holds debug API server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
}

// KernelConfig sizes the simulated machine.
type KernelConfig struct {
	CPUs       int           `envconfig:"KERNEL_CPUS" default:"1" yaml:"cpus"`
	StackWords int           `envconfig:"KERNEL_STACK_WORDS" default:"64" yaml:"stack_words"`
	MaxThreads int           `envconfig:"KERNEL_MAX_THREADS" default:"1024" yaml:"max_threads"`
	Tick       time.Duration `envconfig:"KERNEL_TICK" default:"10ms" yaml:"tick"`
}

// HeapConfig bounds the shared heap.
type HeapConfig struct {
	MaxBytes uint64 `envconfig:"HEAP_MAX_BYTES" default:"67108864" yaml:"max_bytes"`
}

// SupervisorConfig controls domain restarts.
type SupervisorConfig struct {
	Restart      bool          `envconfig:"SUPERVISOR_RESTART" default:"false" yaml:"restart"`
	MaxFailures  int           `envconfig:"SUPERVISOR_MAX_FAILURES" default:"3" yaml:"max_failures"`
	ResetTimeout time.Duration `envconfig:"SUPERVISOR_RESET_TIMEOUT" default:"30s" yaml:"reset_timeout"`
	MaxReports   int           `envconfig:"SUPERVISOR_MAX_REPORTS" default:"128" yaml:"max_reports"`
	// Samples boots a block store and a client domain calling it.
	Samples bool `envconfig:"SUPERVISOR_SAMPLES" default:"false" yaml:"samples"`
}

// TracingConfig controls domain-call span retention.
type TracingConfig struct {
	Retain int `envconfig:"TRACE_RETAIN" default:"256" yaml:"retain"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile loads configuration from the environment and then applies the
// YAML boot file at path. Keys present in the file win; absent keys keep
// their environment or default value.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations the kernel cannot boot with.
func (c *Config) Validate() error {
	switch {
	case c.Kernel.CPUs < 1:
		return fmt.Errorf("invalid config: KERNEL_CPUS must be at least 1, got %d", c.Kernel.CPUs)
	case c.Kernel.StackWords < 1:
		return fmt.Errorf("invalid config: KERNEL_STACK_WORDS must be positive, got %d", c.Kernel.StackWords)
	case c.Kernel.MaxThreads <= c.Kernel.CPUs:
		return fmt.Errorf("invalid config: KERNEL_MAX_THREADS must exceed KERNEL_CPUS, got %d", c.Kernel.MaxThreads)
	case c.Heap.MaxBytes == 0:
		return fmt.Errorf("invalid config: HEAP_MAX_BYTES must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Kernel: KernelConfig{
			CPUs:       1,
			StackWords: 64,
			MaxThreads: 1024,
			Tick:       10 * time.Millisecond,
		},
		Heap: HeapConfig{
			MaxBytes: 64 << 20,
		},
		Supervisor: SupervisorConfig{
			Restart:      false,
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			MaxReports:   128,
		},
		Tracing: TracingConfig{
			Retain: 256,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
