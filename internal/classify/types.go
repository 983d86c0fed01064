package classify

// Category is the broad class of a build or runtime failure.
type Category string

const (
	CategoryDependency Category = "dependency"
	CategoryImport     Category = "import"
	CategorySyntax     Category = "syntax"
	CategoryType       Category = "type"
	CategoryConfig     Category = "config"
	CategoryPort       Category = "port"
	CategoryPermission Category = "permission"
	CategoryEnv        Category = "env"
	CategoryRuntime    Category = "runtime"
	CategoryBuild      Category = "build"
	CategoryUnknown    Category = "unknown"
)

// Severity ranks how disruptive a failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Tier is the cost class of the recommended repair strategy.
// Deterministic fixes need no model call at all.
type Tier string

const (
	TierDeterministic Tier = "deterministic"
	TierFastModel     Tier = "fast_model"
	TierDeepModel     Tier = "deep_model"
)

// ClassifiedError is the result of one classification call. Produced fresh
// per call, never mutated afterwards.
type ClassifiedError struct {
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	Tier       Tier     `json:"tier"`
	Rule       string   `json:"rule"`
	Message    string   `json:"message"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Confidence float64  `json:"confidence"`

	// Deterministic-tier fixes only: either a shell command to run,
	// or a file to (re)write with canned content.
	FixCommand string `json:"fix_command,omitempty"`
	FixPath    string `json:"fix_path,omitempty"`
	FixContent string `json:"fix_content,omitempty"`
}

// Deterministic reports whether the error carries a ready-made fix that can
// be applied without any model call.
func (e *ClassifiedError) Deterministic() bool {
	return e.Tier == TierDeterministic && (e.FixCommand != "" || e.FixPath != "")
}
