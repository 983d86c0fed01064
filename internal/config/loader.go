package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a fixfactory configuration from the given YAML file
// path. After parsing, it fills in defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./fixfactory.yaml, ~/.fixfactory/config.yaml.
// When none exists, the built-in defaults are returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"fixfactory.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".fixfactory", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the stock configuration.
func applyDefaults(cfg *Config) {
	f := &cfg.Fixer
	if f.DebounceSeconds <= 0 {
		f.DebounceSeconds = 2
	}
	if f.CooldownSeconds <= 0 {
		f.CooldownSeconds = 10
	}
	if f.MinErrorsToTrigger <= 0 {
		f.MinErrorsToTrigger = 1
	}
	if f.MaxAttemptsPerError <= 0 {
		f.MaxAttemptsPerError = 3
	}
	if len(f.Sources) == 0 {
		// Network errors excluded: rarely fixable by editing code.
		f.Sources = []string{"build", "runtime", "backend", "container"}
	}

	b := &cfg.Buffers
	if b.StdoutLines <= 0 {
		b.StdoutLines = 500
	}
	if b.StderrLines <= 0 {
		b.StderrLines = 200
	}
	if b.CombinedLines <= 0 {
		b.CombinedLines = 1000
	}

	c := &cfg.Checkpoint
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.TTLHours <= 0 {
		c.TTLHours = 24
	}
}

// FixerEnabled resolves the tri-state enabled flag (nil = on).
func (c *Config) FixerEnabled() bool {
	return c.Fixer.Enabled == nil || *c.Fixer.Enabled
}
