package classify

import (
	"strings"
	"testing"
)

func TestClassifyDependency(t *testing.T) {
	c := New()

	tests := []struct {
		name    string
		text    string
		wantFix string
	}{
		{
			name:    "webpack module not found",
			text:    "Module not found: Error: Can't resolve 'lodash' in '/app/src'",
			wantFix: "npm install lodash",
		},
		{
			name:    "node require",
			text:    "Error: Cannot find module 'express'",
			wantFix: "npm install express",
		},
		{
			name:    "scoped package",
			text:    "Error: Cannot find module '@tanstack/react-query'",
			wantFix: "npm install @tanstack/react-query",
		},
		{
			name:    "vite import",
			text:    `Failed to resolve import "axios" from "src/api.ts"`,
			wantFix: "npm install axios",
		},
		{
			name:    "python",
			text:    "ModuleNotFoundError: No module named 'requests'",
			wantFix: "pip install requests",
		},
		{
			name:    "go",
			text:    `main.go:5:2: cannot find package "github.com/gorilla/mux"`,
			wantFix: "go get github.com/gorilla/mux",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := c.Classify(tt.text)
			if ce.Category != CategoryDependency {
				t.Errorf("Category = %q, want %q", ce.Category, CategoryDependency)
			}
			if ce.Tier != TierDeterministic {
				t.Errorf("Tier = %q, want %q", ce.Tier, TierDeterministic)
			}
			if ce.FixCommand != tt.wantFix {
				t.Errorf("FixCommand = %q, want %q", ce.FixCommand, tt.wantFix)
			}
			if !ce.Deterministic() {
				t.Error("Deterministic() = false, want true")
			}
		})
	}
}

func TestClassifyRelativeModuleIsNotDependency(t *testing.T) {
	c := New()

	ce := c.Classify("Error: Cannot find module './components/Button'")
	if ce.Category != CategoryImport {
		t.Errorf("Category = %q, want %q", ce.Category, CategoryImport)
	}
	if ce.Tier != TierFastModel {
		t.Errorf("Tier = %q, want %q", ce.Tier, TierFastModel)
	}
	if ce.FixCommand != "" {
		t.Errorf("FixCommand = %q, want empty", ce.FixCommand)
	}
}

func TestClassifyConfigCannedFile(t *testing.T) {
	c := New()

	ce := c.Classify("error TS5083: Cannot read file '/app/tsconfig.node.json': ENOENT")
	if ce.Category != CategoryConfig {
		t.Fatalf("Category = %q, want %q", ce.Category, CategoryConfig)
	}
	if ce.FixPath != "tsconfig.node.json" {
		t.Errorf("FixPath = %q, want tsconfig.node.json", ce.FixPath)
	}
	if !strings.Contains(ce.FixContent, `"composite": true`) {
		t.Errorf("FixContent missing canned body: %q", ce.FixContent)
	}
}

func TestClassifyPort(t *testing.T) {
	c := New()

	ce := c.Classify("Error: listen EADDRINUSE: address already in use :::3000")
	if ce.Category != CategoryPort {
		t.Fatalf("Category = %q, want %q", ce.Category, CategoryPort)
	}
	if ce.FixCommand != "kill -9 $(lsof -t -i:3000)" {
		t.Errorf("FixCommand = %q", ce.FixCommand)
	}
}

func TestClassifyTiers(t *testing.T) {
	c := New()

	tests := []struct {
		text     string
		category Category
		tier     Tier
	}{
		{"error TS1005: ';' expected.", CategorySyntax, TierFastModel},
		{"error TS2345: Argument of type 'string' is not assignable", CategoryType, TierFastModel},
		{"SyntaxError: Unexpected token '}'", CategorySyntax, TierFastModel},
		{"ImportError: cannot import name 'create_app'", CategoryImport, TierFastModel},
		{"EACCES: permission denied, open '/etc/app.conf'", CategoryPermission, TierFastModel},
		{"environment variable DATABASE_URL is not set", CategoryEnv, TierFastModel},
		{"ReferenceError: foo is not defined", CategoryRuntime, TierDeepModel},
		{"TypeError: Cannot read properties of undefined (reading 'map')", CategoryRuntime, TierDeepModel},
		{"panic: runtime error: index out of range [3]", CategoryRuntime, TierDeepModel},
		{"Failed to compile.", CategoryBuild, TierDeepModel},
	}

	for _, tt := range tests {
		ce := c.Classify(tt.text)
		if ce.Category != tt.category {
			t.Errorf("Classify(%q).Category = %q, want %q", tt.text, ce.Category, tt.category)
		}
		if ce.Tier != tt.tier {
			t.Errorf("Classify(%q).Tier = %q, want %q", tt.text, ce.Tier, tt.tier)
		}
	}
}

func TestClassifyUnknownFallthrough(t *testing.T) {
	c := New()

	ce := c.Classify("something completely unrecognizable happened")
	if ce.Category != CategoryUnknown {
		t.Errorf("Category = %q, want %q", ce.Category, CategoryUnknown)
	}
	if ce.Tier != TierDeepModel {
		t.Errorf("Tier = %q, want %q", ce.Tier, TierDeepModel)
	}
	if ce.Confidence >= 0.5 {
		t.Errorf("Confidence = %v, want < 0.5", ce.Confidence)
	}
}

func TestDeterministicBeatsDeepModel(t *testing.T) {
	c := New()

	// Text matching both a dependency rule and a build rule must resolve
	// to the cheaper deterministic tier.
	text := "Failed to compile.\nModule not found: Error: Can't resolve 'dayjs' in '/app'"
	ce := c.Classify(text)
	if ce.Category != CategoryDependency {
		t.Errorf("Category = %q, want %q", ce.Category, CategoryDependency)
	}
	if ce.Tier != TierDeterministic {
		t.Errorf("Tier = %q, want %q", ce.Tier, TierDeterministic)
	}
}

func TestExtractLocation(t *testing.T) {
	patterns := defaultLocationPatterns()

	tests := []struct {
		text     string
		wantFile string
		wantLine int
	}{
		{"    at handler (/app/src/server.js:42:13)", "/app/src/server.js", 42},
		{`  File "/app/main.py", line 12, in <module>`, "/app/main.py", 12},
		{"src/auth.ts(42,5): error TS2345: nope", "src/auth.ts", 42},
		{"src/index.tsx:7:3 - error", "src/index.tsx", 7},
		{"no location here", "", 0},
	}

	for _, tt := range tests {
		file, line := extractLocation(patterns, tt.text)
		if file != tt.wantFile || line != tt.wantLine {
			t.Errorf("extractLocation(%q) = (%q, %d), want (%q, %d)",
				tt.text, file, line, tt.wantFile, tt.wantLine)
		}
	}
}

func TestClassifyAttachesLocation(t *testing.T) {
	c := New()

	ce := c.Classify("src/auth.ts(42,5): error TS2345: Argument of type 'string'")
	if ce.File != "src/auth.ts" {
		t.Errorf("File = %q, want src/auth.ts", ce.File)
	}
	if ce.Line != 42 {
		t.Errorf("Line = %d, want 42", ce.Line)
	}
}
