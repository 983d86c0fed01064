package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedSources is the set of valid error-source names.
var recognizedSources = map[string]bool{
	"build":     true,
	"runtime":   true,
	"backend":   true,
	"container": true,
	"network":   true,
}

// recognizedBackends is the set of valid checkpoint backends.
var recognizedBackends = map[string]bool{
	"sqlite":   true,
	"postgres": true,
}

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	for i, s := range cfg.Fixer.Sources {
		if !recognizedSources[s] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("fixer.sources[%d]", i),
				Message: fmt.Sprintf("unknown source %q", s),
			})
		}
	}

	if !recognizedBackends[cfg.Checkpoint.Backend] {
		errs = append(errs, ValidationError{
			Field:   "checkpoint.backend",
			Message: fmt.Sprintf("unknown backend %q (want sqlite or postgres)", cfg.Checkpoint.Backend),
		})
	}
	if cfg.Checkpoint.Backend == "postgres" && cfg.Checkpoint.DSN == "" {
		errs = append(errs, ValidationError{
			Field:   "checkpoint.dsn",
			Message: "is required for the postgres backend",
		})
	}

	return errs
}
