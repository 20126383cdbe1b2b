// Package config loads ovniemu settings.
// Priority: defaults < config file < environment < flags
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ovniemu/internal/stream"
)

// FileName is the config file looked up in the working directory when no
// path is given.
const FileName = ".ovniemu.yaml"

// Config holds all ovniemu configuration.
type Config struct {
	Version int `yaml:"version"`

	Emu       EmuConfig       `yaml:"emu"`
	Output    OutputConfig    `yaml:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// EmuConfig controls the emulator.
type EmuConfig struct {
	Linter       bool   `yaml:"linter"`
	Lookback     int    `yaml:"lookback"`   // events searched by region repair
	LoadLimit    int    `yaml:"load_limit"` // 0 = one per CPU
	ModelsDir    string `yaml:"models_dir"` // extra CUE model tables
	ClockOffsets string `yaml:"clock_offsets"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	Dir   string `yaml:"dir"`   // Paraver traces, relative to the trace dir
	Store string `yaml:"store"` // SQLite run store; empty disables it
}

// TelemetryConfig controls metrics and span export.
type TelemetryConfig struct {
	MetricsFile string `yaml:"metrics_file"` // Prometheus textfile
	SpansFile   string `yaml:"spans_file"`   // JSON spans
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Emu: EmuConfig{
			Lookback: stream.DefaultWindow,
		},
		Output: OutputConfig{
			Dir: "prv",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load returns the defaults overridden by the file at path and by the
// environment. With an empty path, FileName in the working directory is
// used if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Fields absent from the file keep their defaults.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.loadEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// loadEnv applies OVNIEMU_* environment variables.
func (c *Config) loadEnv() {
	if v := os.Getenv("OVNIEMU_STORE"); v != "" {
		c.Output.Store = v
	}
	if v := os.Getenv("OVNIEMU_MODELS"); v != "" {
		c.Emu.ModelsDir = v
	}
	if v := os.Getenv("OVNIEMU_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Emu.Lookback <= 0 {
		return fmt.Errorf("emu.lookback must be positive, got %d", c.Emu.Lookback)
	}
	if c.Emu.LoadLimit < 0 {
		return fmt.Errorf("emu.load_limit must not be negative, got %d", c.Emu.LoadLimit)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", l.Level)
	}
	return level, nil
}
