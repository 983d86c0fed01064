// Package diffapply parses unified-diff patches and applies them to file
// content without shelling out to an external diff/patch tool. Hunks whose
// line numbers have drifted are re-anchored by a bounded fuzzy search.
package diffapply

import (
	"regexp"
	"strconv"
	"strings"
)

// LineKind tags one line of a hunk.
type LineKind int

const (
	LineContext LineKind = iota
	LineAdd
	LineDelete
)

// DiffLine is a single tagged line within a hunk, with the old/new file line
// numbers derived while parsing.
type DiffLine struct {
	Kind    LineKind
	Content string
	OldLine int // 0 for added lines
	NewLine int // 0 for deleted lines
}

// DiffHunk is one contiguous block of changes.
type DiffHunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []DiffLine
}

// ParsedDiff is the result of parsing one single-file unified diff.
// Callers must check Valid before Apply.
type ParsedDiff struct {
	OldPath string
	NewPath string
	Hunks   []DiffHunk
	Valid   bool
	Reason  string // set when Valid is false
}

// FilePath returns the path the diff targets, preferring the new-file header.
func (d *ParsedDiff) FilePath() string {
	if d.NewPath != "" && d.NewPath != "/dev/null" {
		return d.NewPath
	}
	return d.OldPath
}

// hunk header: @@ -oldStart[,oldCount] +newStart[,newCount] @@
// A missing count means 1.
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse scans patchText line by line into file headers and hunks.
// It never returns nil; invalid input yields Valid=false with a reason.
func Parse(patchText string) *ParsedDiff {
	d := &ParsedDiff{}

	var cur *DiffHunk
	oldLine, newLine := 0, 0
	oldRemain, newRemain := 0, 0

	flush := func() {
		if cur != nil {
			d.Hunks = append(d.Hunks, *cur)
			cur = nil
		}
	}
	// A hunk body is exactly as long as its declared counts; once both are
	// consumed the hunk is closed so trailing text (or the empty element a
	// final newline splits into) is never absorbed as a context line.
	exhausted := func() {
		if oldRemain <= 0 && newRemain <= 0 {
			flush()
		}
	}

	for _, raw := range strings.Split(patchText, "\n") {
		switch {
		case strings.HasPrefix(raw, "--- "):
			flush()
			d.OldPath = stripPathPrefix(strings.TrimSpace(raw[4:]), "a/")
		case strings.HasPrefix(raw, "+++ "):
			flush()
			d.NewPath = stripPathPrefix(strings.TrimSpace(raw[4:]), "b/")
		case strings.HasPrefix(raw, "@@"):
			m := hunkHeaderRe.FindStringSubmatch(raw)
			if m == nil {
				continue
			}
			flush()
			cur = &DiffHunk{
				OldStart: atoiDefault(m[1], 1),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 1),
				NewCount: atoiDefault(m[4], 1),
			}
			oldLine, newLine = cur.OldStart, cur.NewStart
			oldRemain, newRemain = cur.OldCount, cur.NewCount
			exhausted()
		case cur == nil:
			// Preamble noise (e.g. "diff --git", "index ..." lines).
		case strings.HasPrefix(raw, `\`):
			// "\ No newline at end of file"
		case strings.HasPrefix(raw, "+"):
			cur.Lines = append(cur.Lines, DiffLine{Kind: LineAdd, Content: raw[1:], NewLine: newLine})
			newLine++
			newRemain--
			exhausted()
		case strings.HasPrefix(raw, "-"):
			cur.Lines = append(cur.Lines, DiffLine{Kind: LineDelete, Content: raw[1:], OldLine: oldLine})
			oldLine++
			oldRemain--
			exhausted()
		default:
			content := raw
			if strings.HasPrefix(raw, " ") {
				content = raw[1:]
			}
			cur.Lines = append(cur.Lines, DiffLine{Kind: LineContext, Content: content, OldLine: oldLine, NewLine: newLine})
			oldLine++
			newLine++
			oldRemain--
			newRemain--
			exhausted()
		}
	}
	flush()

	switch {
	case len(d.Hunks) == 0:
		d.Reason = "no hunks found"
	case d.FilePath() == "":
		d.Reason = "no target file path"
	default:
		d.Valid = true
	}
	return d
}

// ExtractFilePath pulls the target path out of a patch without a full parse.
// Returns "" when no file header is present.
func ExtractFilePath(patchText string) string {
	for _, raw := range strings.Split(patchText, "\n") {
		if strings.HasPrefix(raw, "+++ ") {
			p := stripPathPrefix(strings.TrimSpace(raw[4:]), "b/")
			if p != "" && p != "/dev/null" {
				return p
			}
		}
	}
	for _, raw := range strings.Split(patchText, "\n") {
		if strings.HasPrefix(raw, "--- ") {
			p := stripPathPrefix(strings.TrimSpace(raw[4:]), "a/")
			if p != "" && p != "/dev/null" {
				return p
			}
		}
	}
	return ""
}

func stripPathPrefix(p, prefix string) string {
	if strings.HasPrefix(p, prefix) {
		return p[len(prefix):]
	}
	return p
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
