// Package config loads the optional runmaker.yaml holding site defaults.
// Flags always win over the file; the file wins over the built-ins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the current directory when --config is not
// given.
const DefaultFile = "runmaker.yaml"

// Config holds the tunables shared by the tools.
type Config struct {
	// Port is the coordinator's TCP port.
	Port int `yaml:"port"`

	// LogWidth and LogLines size the per-job rotating log slots.
	LogWidth int `yaml:"log_width"`
	LogLines int `yaml:"log_lines"`

	// FlushSeconds is the minimum interval between log slot flushes.
	FlushSeconds int `yaml:"flush_seconds"`

	// RetryAttempts and BackoffSeconds bound network request retries.
	RetryAttempts  int `yaml:"retry_attempts"`
	BackoffSeconds int `yaml:"backoff_seconds"`

	// TokenFile is where the coordinator persists its token and where
	// workers look for it by default.
	TokenFile string `yaml:"token_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           9998,
		LogWidth:       160,
		LogLines:       3,
		FlushSeconds:   60,
		RetryAttempts:  5,
		BackoffSeconds: 3,
		TokenFile:      defaultTokenFile(),
	}
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".runmaker.token"
	}
	return filepath.Join(home, ".runmaker.token")
}

// Load reads path on top of the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
