// Package config loads the TOML settings file of the command line tool.
//
// Example:
//
//	bundle = "dist/utaformatix.js"
//	global_name = "utaformatix"
//	log_level = "info"
//	log_format = "text"
//	memory_limit_mb = 256
//	timeout = "30s"
//	pool_size = 2
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/bundle"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/logging"
)

var (
	ErrParseToml     = errors.New("failed to parse TOML")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Duration is a time.Duration written as a Go duration string ("1m30s").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config holds every setting the tool reads from a file. Zero values mean
// "use the default".
type Config struct {
	Bundle        string   `toml:"bundle"`
	GlobalName    string   `toml:"global_name"`
	LogLevel      string   `toml:"log_level"`
	LogFormat     string   `toml:"log_format"`
	MemoryLimitMB int      `toml:"memory_limit_mb"`
	Timeout       Duration `toml:"timeout"`
	PoolSize      int      `toml:"pool_size"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		GlobalName: bundle.DefaultGlobalName,
		LogLevel:   "info",
		LogFormat:  string(logging.FormatText),
		Timeout:    Duration(time.Minute),
		PoolSize:   1,
	}
}

// Load reads and validates the file at path. Relative bundle paths are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	if ext := filepath.Ext(path); ext != ".toml" {
		return nil, fmt.Errorf("unsupported config format: %s, only .toml is supported", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Bundle != "" && !filepath.IsAbs(cfg.Bundle) {
		cfg.Bundle = filepath.Join(filepath.Dir(path), cfg.Bundle)
	}
	return cfg, nil
}

// Parse decodes TOML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseToml, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	if err := logging.ValidateLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.MemoryLimitMB < 0 {
		errs = append(errs, fmt.Errorf("memory_limit_mb must not be negative, got %d", c.MemoryLimitMB))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", time.Duration(c.Timeout)))
	}
	if c.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Marshal renders the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
