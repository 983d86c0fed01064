package config

// Config is the top-level configuration structure parsed from fixfactory YAML.
type Config struct {
	Fixer      Fixer      `yaml:"fixer"`
	Buffers    Buffers    `yaml:"buffers"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	EventLog   EventLog   `yaml:"event_log"`
}

// Fixer controls auto-fix triggering for a job.
type Fixer struct {
	Enabled             *bool    `yaml:"enabled"` // nil = true
	DebounceSeconds     float64  `yaml:"debounce_seconds"`
	CooldownSeconds     float64  `yaml:"cooldown_seconds"`
	MinErrorsToTrigger  int      `yaml:"min_errors_to_trigger"`
	MaxAttemptsPerError int      `yaml:"max_attempts_per_error"`
	Sources             []string `yaml:"sources"` // error sources that may trigger a fix
}

// Buffers caps the execution-context output buffers (lines).
type Buffers struct {
	StdoutLines   int `yaml:"stdout_lines"`
	StderrLines   int `yaml:"stderr_lines"`
	CombinedLines int `yaml:"combined_lines"`
}

// Checkpoint selects and configures the checkpoint store backend.
type Checkpoint struct {
	Backend  string  `yaml:"backend"` // "sqlite" (default) or "postgres"
	Path     string  `yaml:"path"`    // sqlite file; defaults to ~/.fixfactory/checkpoints.db
	DSN      string  `yaml:"dsn"`     // postgres connection string
	TTLHours float64 `yaml:"ttl_hours"`
}

// EventLog configures the run/fix event database.
type EventLog struct {
	Path string `yaml:"path"` // defaults to ~/.fixfactory/events.db
}
