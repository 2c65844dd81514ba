// Package config reads the run configuration and the input deck.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mfkiwl/abacus-develop/partitions"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the run configuration
type Config struct {
	// Correction model file (.yaml, .yml or .cbor)
	Model string `yaml:"model"`

	// Input deck with the layout and the blocks of one geometry step
	Deck string `yaml:"deck"`

	// Concurrent block decompositions per evaluation
	Workers int `yaml:"workers"`

	// In-process ranks used for the overlap accumulation
	Ranks int `yaml:"ranks"`

	// Atom to rank assignment: block, round-robin or cost-balanced
	Partition string `yaml:"partition"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:   4,
		Ranks:     1,
		Partition: "block",
		LogLevel:  "info",
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.resolvePaths(filepath.Dir(path))
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("DEEPKS_MODEL"); path != "" {
		c.Model = path
	}
	if level := os.Getenv("DEEPKS_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// resolvePaths makes relative file references relative to the config file
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.Model, &c.Deck} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Ranks < 1 {
		return fmt.Errorf("ranks must be positive, got %d", c.Ranks)
	}
	if _, err := partitions.ParseStrategy(c.Partition); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Strategy returns the configured partition strategy
func (c *Config) Strategy() partitions.PartitionStrategy {
	s, _ := partitions.ParseStrategy(c.Partition)
	return s
}
