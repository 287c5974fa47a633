// Package config provides configuration loading for the sync engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variables read by the application.
const EnvPrefix = "SKILLSYNC"

const (
	// DefaultWorkers is the per-source fetch worker pool size.
	DefaultWorkers = 4

	// DefaultFetchTimeout is the per-request HTTP timeout.
	DefaultFetchTimeout = "30s"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DatabasePath is the location of the embedded state database.
	// Defaults to <dataDir>/state.db if not specified.
	DatabasePath string `yaml:"databasePath,omitempty"`

	// CacheDir is the root directory for locally cached artifacts.
	CacheDir string `yaml:"cacheDir"`

	// Workers is the per-source fetch worker pool size.
	Workers int `yaml:"workers,omitempty"`

	// FetchTimeout is the per-request HTTP timeout (e.g. "30s", "1m").
	FetchTimeout string `yaml:"fetchTimeout,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file. With no
// options it returns a default configuration rooted in the user cache
// directory.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	config := &Config{}
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyDefaults fills in unset fields.
func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = defaultDataDir("cache")
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(defaultDataDir(""), "state.db")
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.FetchTimeout == "" {
		c.FetchTimeout = DefaultFetchTimeout
	}
}

// GetFetchTimeout returns the parsed fetch timeout.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil {
		d, _ = time.ParseDuration(DefaultFetchTimeout)
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := time.ParseDuration(c.FetchTimeout); err != nil {
		return fmt.Errorf("fetchTimeout must be a valid duration (e.g., '30s', '1m'): %w", err)
	}
	return nil
}

// defaultDataDir resolves a subdirectory under the per-user data root,
// falling back to the working directory when no home is available.
func defaultDataDir(sub string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "skillsync", sub)
}
