// Package config loads the kernel's layered configuration: built-in
// defaults, overridden by a YAML file, overridden by environment
// variables (mirroring the settings resolver's own defaults⊕env
// priority, but for the process's own ambient configuration rather
// than module settings).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the kernel's HTTP surface (§6.1/§6.2).
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls where SQLite files are created (§6.3).
type DatabaseConfig struct {
	DataDir string `yaml:"data_dir" env:"DATABASE_DATA_DIR"`
}

// LoggingConfig controls the kernel's own logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// SchedulerConfig controls C7's loop cadence and concurrency bound.
type SchedulerConfig struct {
	TickIntervalSeconds  int `yaml:"tick_interval_seconds" env:"SCHEDULER_TICK_INTERVAL_SECONDS"`
	MaxInFlight          int `yaml:"max_in_flight" env:"SCHEDULER_MAX_IN_FLIGHT"`
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds" env:"SCHEDULER_DEFAULT_TIMEOUT_SECONDS"`
}

// BootstrapConfig holds the bootstrap section of the configuration.
type BootstrapConfig struct {
	// Directories lists a directory set relative to DataDir. C3's
	// directory handler does not read it: it creates
	// bootstrap.DefaultDirectories.
	Directories []string `yaml:"directories"`
}

// ShutdownConfig controls C9's global deadline.
type ShutdownConfig struct {
	DeadlineSeconds int `yaml:"deadline_seconds" env:"SHUTDOWN_DEADLINE_SECONDS"`
}

// Config is the kernel's top-level configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

// New returns a Config populated with the kernel's built-in defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			DataDir: "data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Scheduler: SchedulerConfig{
			TickIntervalSeconds:   2,
			MaxInFlight:           4,
			DefaultTimeoutSeconds: 30,
		},
		Bootstrap: BootstrapConfig{
			Directories: []string{
				"logs", "cache", "temp", "database", "config",
				"error_logs", "logs/modules", "models", "exports", "imports",
			},
		},
		Shutdown: ShutdownConfig{
			DeadlineSeconds: 60,
		},
	}
}

// Load reads configuration from an optional YAML file named by
// CONFIG_FILE (or "configs/config.yaml" if unset and present), then
// applies environment variable overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFile loads configuration from a specific YAML file, then applies
// environment variable overrides. Useful for tests and for
// cmd/kerneld's --config flag.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, err
		}
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
