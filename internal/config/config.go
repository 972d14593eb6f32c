// Package config loads the suitegate.yaml configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	goruntime "runtime"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. It may be absent.
const DefaultPath = "suitegate.yaml"

// Config holds run settings. CLI flags override file values.
type Config struct {
	// Root is the suite directory containing one directory per test.
	Root string `yaml:"root"`

	// Recursive searches nested directories for tests.
	Recursive bool `yaml:"recursive"`

	Runtime   RuntimeConfig  `yaml:"runtime"`
	Platforms PlatformConfig `yaml:"platforms"`

	// Parallel bounds concurrently running tests.
	Parallel int `yaml:"parallel"`

	// Timeout is the per-test default.
	Timeout time.Duration `yaml:"timeout"`

	// Shell interprets test.sh.
	Shell string `yaml:"shell"`
}

// RuntimeConfig determines the runtime version of the system under test.
type RuntimeConfig struct {
	Version string   `yaml:"version,omitempty"`
	Command []string `yaml:"command,omitempty"`
}

// PlatformConfig adjusts detected platform identifiers.
type PlatformConfig struct {
	// Override replaces detection entirely.
	Override []string `yaml:"override,omitempty"`
	Extra    []string `yaml:"extra,omitempty"`
}

// DefaultVersionCommand asks the installed .NET runtime for its version.
func DefaultVersionCommand() []string {
	return []string{"dotnet", "--version"}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Root:     ".",
		Runtime:  RuntimeConfig{Command: DefaultVersionCommand()},
		Parallel: goruntime.NumCPU(),
		Timeout:  10 * time.Minute,
		Shell:    "bash",
	}
}

// Load reads path over the defaults. When required is false a missing file
// yields the defaults.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Shell == "" {
		return fmt.Errorf("shell must not be empty")
	}
	return nil
}
