package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validConfig = `
fixer:
  enabled: true
  debounce_seconds: 1.5
  cooldown_seconds: 30
  min_errors_to_trigger: 2
  max_attempts_per_error: 5
  sources:
    - build
    - runtime
buffers:
  stdout_lines: 250
  stderr_lines: 100
  combined_lines: 400
checkpoint:
  backend: postgres
  dsn: "postgres://fixer@localhost/checkpoints"
  ttl_hours: 48
event_log:
  path: "/tmp/events.db"
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fixfactory.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Fixer.DebounceSeconds != 1.5 {
		t.Errorf("DebounceSeconds = %v, want 1.5", cfg.Fixer.DebounceSeconds)
	}
	if cfg.Fixer.CooldownSeconds != 30 {
		t.Errorf("CooldownSeconds = %v, want 30", cfg.Fixer.CooldownSeconds)
	}
	if cfg.Fixer.MinErrorsToTrigger != 2 {
		t.Errorf("MinErrorsToTrigger = %d, want 2", cfg.Fixer.MinErrorsToTrigger)
	}
	if cfg.Fixer.MaxAttemptsPerError != 5 {
		t.Errorf("MaxAttemptsPerError = %d, want 5", cfg.Fixer.MaxAttemptsPerError)
	}
	if len(cfg.Fixer.Sources) != 2 {
		t.Errorf("Sources = %v, want 2 entries", cfg.Fixer.Sources)
	}
	if cfg.Buffers.StdoutLines != 250 {
		t.Errorf("StdoutLines = %d, want 250", cfg.Buffers.StdoutLines)
	}
	if cfg.Checkpoint.Backend != "postgres" {
		t.Errorf("Backend = %q, want postgres", cfg.Checkpoint.Backend)
	}
	if cfg.Checkpoint.TTLHours != 48 {
		t.Errorf("TTLHours = %v, want 48", cfg.Checkpoint.TTLHours)
	}
	if cfg.EventLog.Path != "/tmp/events.db" {
		t.Errorf("EventLog.Path = %q", cfg.EventLog.Path)
	}
	if !cfg.FixerEnabled() {
		t.Error("FixerEnabled() = false, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "fixer: [not a map")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestDefaults(t *testing.T) {
	path := writeTestConfig(t, "fixer: {}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Fixer.DebounceSeconds != 2 {
		t.Errorf("DebounceSeconds = %v, want 2", cfg.Fixer.DebounceSeconds)
	}
	if cfg.Fixer.CooldownSeconds != 10 {
		t.Errorf("CooldownSeconds = %v, want 10", cfg.Fixer.CooldownSeconds)
	}
	if cfg.Fixer.MaxAttemptsPerError != 3 {
		t.Errorf("MaxAttemptsPerError = %d, want 3", cfg.Fixer.MaxAttemptsPerError)
	}
	for _, s := range cfg.Fixer.Sources {
		if s == "network" {
			t.Error("default sources should not include network")
		}
	}
	if cfg.Buffers.StdoutLines != 500 || cfg.Buffers.StderrLines != 200 || cfg.Buffers.CombinedLines != 1000 {
		t.Errorf("buffer defaults = %+v", cfg.Buffers)
	}
	if cfg.Checkpoint.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.Checkpoint.Backend)
	}
	if cfg.Checkpoint.TTLHours != 24 {
		t.Errorf("TTLHours = %v, want 24", cfg.Checkpoint.TTLHours)
	}
	if !cfg.FixerEnabled() {
		t.Error("FixerEnabled() = false, want true by default")
	}
}

func TestFixerDisabled(t *testing.T) {
	path := writeTestConfig(t, "fixer:\n  enabled: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.FixerEnabled() {
		t.Error("FixerEnabled() = true, want false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErrs int
	}{
		{
			name:     "valid defaults",
			mutate:   func(c *Config) {},
			wantErrs: 0,
		},
		{
			name: "unknown source",
			mutate: func(c *Config) {
				c.Fixer.Sources = append(c.Fixer.Sources, "cosmic-rays")
			},
			wantErrs: 1,
		},
		{
			name: "unknown backend",
			mutate: func(c *Config) {
				c.Checkpoint.Backend = "mysql"
			},
			wantErrs: 1,
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Checkpoint.Backend = "postgres"
			},
			wantErrs: 1,
		},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Checkpoint.Backend = "postgres"
				c.Checkpoint.DSN = "postgres://localhost/ckpt"
			},
			wantErrs: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)
			errs := Validate(cfg)
			if len(errs) != tt.wantErrs {
				t.Errorf("Validate() returned %d errors, want %d: %v", len(errs), tt.wantErrs, errs)
			}
		})
	}
}
