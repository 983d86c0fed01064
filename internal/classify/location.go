package classify

import (
	"regexp"
	"strconv"
)

// locationPattern extracts a file path and line number from error text.
// Patterns are tried in order; the first match wins. Extraction is
// independent of category matching.
type locationPattern struct {
	name string
	re   *regexp.Regexp // submatch 1 = file, submatch 2 = line
}

func defaultLocationPatterns() []locationPattern {
	return []locationPattern{
		// node stack frame: "    at handler (/app/src/server.js:42:13)"
		{
			name: "js-stack-frame",
			re:   regexp.MustCompile(`at [^\n(]*\(([^\s()]+):(\d+):\d+\)`),
		},
		// python: File "/app/main.py", line 12
		{
			name: "python-file-line",
			re:   regexp.MustCompile(`File "([^"]+)", line (\d+)`),
		},
		// tsc: src/auth.ts(42,5): error TS2345
		{
			name: "tsc-file-line",
			re:   regexp.MustCompile(`([^\s():]+\.[A-Za-z]{1,4})\((\d+),\d+\)`),
		},
		// generic file:line or file:line:col
		{
			name: "file-colon-line",
			re:   regexp.MustCompile(`([^\s():]+\.[A-Za-z]{1,4}):(\d+)(?::\d+)?`),
		},
	}
}

// extractLocation returns the first file/line the location patterns find in
// text, or ("", 0) when none match.
func extractLocation(patterns []locationPattern, text string) (string, int) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		line, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		return m[1], line
	}
	return "", 0
}
