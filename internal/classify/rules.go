package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// rule is one entry in the ordered classification table. Rules are data, not
// control flow: the table order encodes the cheapest-tier-first evaluation
// that makes deterministic fixes win over model-backed ones.
type rule struct {
	name       string
	re         *regexp.Regexp
	category   Category
	severity   Severity
	tier       Tier
	confidence float64

	// fix synthesizes a deterministic repair from the regex submatches.
	// Only set for deterministic-tier rules.
	fix func(m []string) (command, path, content string)
}

func npmInstall(m []string) (string, string, string) {
	pkg := m[1]
	// Relative specifiers are project files, not installable packages.
	if strings.HasPrefix(pkg, ".") || strings.HasPrefix(pkg, "/") {
		return "", "", ""
	}
	return fmt.Sprintf("npm install %s", pkg), "", ""
}

func pipInstall(m []string) (string, string, string) {
	return fmt.Sprintf("pip install %s", m[1]), "", ""
}

func goGet(m []string) (string, string, string) {
	return fmt.Sprintf("go get %s", m[1]), "", ""
}

func killPort(m []string) (string, string, string) {
	return fmt.Sprintf("kill -9 $(lsof -t -i:%s)", m[1]), "", ""
}

func cannedFile(path, content string) func([]string) (string, string, string) {
	return func([]string) (string, string, string) {
		return "", path, content
	}
}

// defaultRules returns the ordered rule table. Deterministic categories
// (dependency, config, port) come first, then the fast-model group
// (import, syntax, type, permission, env), then the deep-model group
// (runtime, build). First match wins.
func defaultRules() []rule {
	return []rule{
		// --- deterministic: dependency ---
		{
			name:       "webpack-module-not-found",
			re:         regexp.MustCompile(`Module not found: Error: Can't resolve '([^']+)'`),
			category:   CategoryDependency,
			severity:   SeverityHigh,
			tier:       TierDeterministic,
			confidence: 0.95,
			fix:        npmInstall,
		},
		{
			name:       "node-cannot-find-module",
			re:         regexp.MustCompile(`Cannot find module '([@A-Za-z][^']*)'`),
			category:   CategoryDependency,
			severity:   SeverityHigh,
			tier:       TierDeterministic,
			confidence: 0.95,
			fix:        npmInstall,
		},
		{
			name:       "vite-failed-to-resolve-import",
			re:         regexp.MustCompile(`Failed to resolve import "([@A-Za-z][^"]*)"`),
			category:   CategoryDependency,
			severity:   SeverityHigh,
			tier:       TierDeterministic,
			confidence: 0.9,
			fix:        npmInstall,
		},
		{
			name:       "python-module-not-found",
			re:         regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`),
			category:   CategoryDependency,
			severity:   SeverityHigh,
			tier:       TierDeterministic,
			confidence: 0.95,
			fix:        pipInstall,
		},
		{
			name:       "go-cannot-find-package",
			re:         regexp.MustCompile(`cannot find package "([^"]+)"`),
			category:   CategoryDependency,
			severity:   SeverityHigh,
			tier:       TierDeterministic,
			confidence: 0.9,
			fix:        goGet,
		},

		// --- deterministic: config ---
		{
			name:       "missing-tsconfig-node",
			re:         regexp.MustCompile(`tsconfig\.node\.json[^\n]*(?:not found|no such file|does not exist|ENOENT)|ENOENT[^\n]*tsconfig\.node\.json`),
			category:   CategoryConfig,
			severity:   SeverityMedium,
			tier:       TierDeterministic,
			confidence: 0.9,
			fix:        cannedFile("tsconfig.node.json", tsconfigNodeJSON),
		},
		{
			name:       "missing-postcss-config",
			re:         regexp.MustCompile(`(?:Cannot find|ENOENT)[^\n]*postcss\.config\.(?:js|cjs)`),
			category:   CategoryConfig,
			severity:   SeverityMedium,
			tier:       TierDeterministic,
			confidence: 0.85,
			fix:        cannedFile("postcss.config.js", postcssConfigJS),
		},

		// --- deterministic: port ---
		{
			name:       "eaddrinuse",
			re:         regexp.MustCompile(`EADDRINUSE[^\n]*?:(\d+)`),
			category:   CategoryPort,
			severity:   SeverityMedium,
			tier:       TierDeterministic,
			confidence: 0.95,
			fix:        killPort,
		},
		{
			name:       "address-in-use",
			re:         regexp.MustCompile(`(?i)(?:address already in use|port (?:is )?already in use)[^\n]*?(\d{2,5})`),
			category:   CategoryPort,
			severity:   SeverityMedium,
			tier:       TierDeterministic,
			confidence: 0.85,
			fix:        killPort,
		},

		// --- fast model: import ---
		{
			name:       "node-cannot-find-local-module",
			re:         regexp.MustCompile(`Cannot find module '(\.[^']*)'`),
			category:   CategoryImport,
			severity:   SeverityHigh,
			tier:       TierFastModel,
			confidence: 0.85,
		},
		{
			name:       "python-import-error",
			re:         regexp.MustCompile(`ImportError: cannot import name '([^']+)'`),
			category:   CategoryImport,
			severity:   SeverityHigh,
			tier:       TierFastModel,
			confidence: 0.9,
		},
		{
			name:       "esm-import-outside-module",
			re:         regexp.MustCompile(`Cannot use import statement outside a module`),
			category:   CategoryImport,
			severity:   SeverityMedium,
			tier:       TierFastModel,
			confidence: 0.85,
		},
		{
			name:       "react-attempted-import",
			re:         regexp.MustCompile(`Attempted import error: '([^']+)'`),
			category:   CategoryImport,
			severity:   SeverityMedium,
			tier:       TierFastModel,
			confidence: 0.85,
		},

		// --- fast model: syntax ---
		{
			name:       "ts-syntax-error",
			re:         regexp.MustCompile(`error TS1\d{3}:`),
			category:   CategorySyntax,
			severity:   SeverityHigh,
			tier:       TierFastModel,
			confidence: 0.9,
		},
		{
			name:       "js-unexpected-token",
			re:         regexp.MustCompile(`(?:SyntaxError|Parse error|Parsing error)[^\n]*(?:Unexpected token|Unexpected end)`),
			category:   CategorySyntax,
			severity:   SeverityHigh,
			tier:       TierFastModel,
			confidence: 0.85,
		},
		{
			name:       "generic-syntax-error",
			re:         regexp.MustCompile(`SyntaxError: `),
			category:   CategorySyntax,
			severity:   SeverityHigh,
			tier:       TierFastModel,
			confidence: 0.8,
		},

		// --- fast model: type ---
		{
			name:       "ts-type-error",
			re:         regexp.MustCompile(`error TS2\d{3}:`),
			category:   CategoryType,
			severity:   SeverityMedium,
			tier:       TierFastModel,
			confidence: 0.9,
		},
		{
			name:       "mypy-incompatible-types",
			re:         regexp.MustCompile(`error: Incompatible types?`),
			category:   CategoryType,
			severity:   SeverityMedium,
			tier:       TierFastModel,
			confidence: 0.85,
		},

		// --- fast model: permission ---
		{
			name:       "eacces",
			re:         regexp.MustCompile(`EACCES|(?i)permission denied`),
			category:   CategoryPermission,
			severity:   SeverityHigh,
			tier:       TierFastModel,
			confidence: 0.85,
		},

		// --- fast model: env ---
		{
			name:       "missing-env-var",
			re:         regexp.MustCompile(`(?i)(?:environment variable|env var)\s+['"]?(\w+)['"]?\s+(?:is )?not (?:set|defined|found)`),
			category:   CategoryEnv,
			severity:   SeverityMedium,
			tier:       TierFastModel,
			confidence: 0.85,
		},
		{
			name:       "process-env-undefined",
			re:         regexp.MustCompile(`process\.env\.(\w+) is (?:undefined|not defined)`),
			category:   CategoryEnv,
			severity:   SeverityMedium,
			tier:       TierFastModel,
			confidence: 0.8,
		},

		// --- deep model: runtime ---
		{
			name:       "js-reference-error",
			re:         regexp.MustCompile(`ReferenceError: `),
			category:   CategoryRuntime,
			severity:   SeverityHigh,
			tier:       TierDeepModel,
			confidence: 0.8,
		},
		{
			name:       "js-type-error-runtime",
			re:         regexp.MustCompile(`TypeError: [^\n]*(?:is not a function|of undefined|of null)`),
			category:   CategoryRuntime,
			severity:   SeverityHigh,
			tier:       TierDeepModel,
			confidence: 0.8,
		},
		{
			name:       "python-traceback",
			re:         regexp.MustCompile(`Traceback \(most recent call last\)`),
			category:   CategoryRuntime,
			severity:   SeverityHigh,
			tier:       TierDeepModel,
			confidence: 0.75,
		},
		{
			name:       "go-panic",
			re:         regexp.MustCompile(`panic: `),
			category:   CategoryRuntime,
			severity:   SeverityCritical,
			tier:       TierDeepModel,
			confidence: 0.85,
		},
		{
			name:       "unhandled-rejection",
			re:         regexp.MustCompile(`(?i)unhandled (?:promise )?rejection`),
			category:   CategoryRuntime,
			severity:   SeverityHigh,
			tier:       TierDeepModel,
			confidence: 0.75,
		},

		// --- deep model: build ---
		{
			name:       "failed-to-compile",
			re:         regexp.MustCompile(`(?i)failed to compile`),
			category:   CategoryBuild,
			severity:   SeverityHigh,
			tier:       TierDeepModel,
			confidence: 0.7,
		},
		{
			name:       "build-failed",
			re:         regexp.MustCompile(`(?i)(?:build failed|error during build|compilation (?:error|failed))`),
			category:   CategoryBuild,
			severity:   SeverityHigh,
			tier:       TierDeepModel,
			confidence: 0.7,
		},
	}
}

const tsconfigNodeJSON = `{
  "compilerOptions": {
    "composite": true,
    "skipLibCheck": true,
    "module": "ESNext",
    "moduleResolution": "bundler",
    "allowSyntheticDefaultImports": true
  },
  "include": ["vite.config.ts"]
}
`

const postcssConfigJS = `export default {
  plugins: {
    tailwindcss: {},
    autoprefixer: {},
  },
}
`
