package diffapply

import (
	"fmt"
	"strings"
)

// fuzzWindow bounds how far a hunk may be re-anchored from its declared
// position when line numbers have drifted.
const fuzzWindow = 10

// ApplyResult holds the outcome of applying a parsed diff.
type ApplyResult struct {
	Content string `json:"content"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
}

// Apply applies d to originalText. Hunks are applied last-to-first so edits
// from later hunks never shift the line numbers of earlier ones. If any hunk
// fails to anchor, the returned content is the original text verbatim and
// the error names the failing hunk: a patch is applied fully or not at all.
//
// Calling Apply with an invalid ParsedDiff is a caller bug; check Valid
// after Parse.
func Apply(originalText string, d *ParsedDiff) (*ApplyResult, error) {
	if d == nil || !d.Valid {
		reason := "nil diff"
		if d != nil {
			reason = d.Reason
		}
		return &ApplyResult{Content: originalText}, fmt.Errorf("apply called on invalid diff: %s", reason)
	}

	// An empty original (new-file patches diff against /dev/null) is zero
	// lines, not one empty line; the result then carries no trailing newline
	// element either.
	var lines []string
	if originalText != "" {
		lines = strings.Split(originalText, "\n")
	}
	res := &ApplyResult{}

	for i := len(d.Hunks) - 1; i >= 0; i-- {
		h := &d.Hunks[i]

		anchor, ok := anchorHunk(lines, h)
		if !ok {
			return &ApplyResult{Content: originalText},
				fmt.Errorf("hunk @@ -%d,%d +%d,%d @@ failed to anchor within ±%d lines",
					h.OldStart, h.OldCount, h.NewStart, h.NewCount, fuzzWindow)
		}

		var segment []string
		consumed := 0
		for _, dl := range h.Lines {
			switch dl.Kind {
			case LineContext:
				// Keep the original line to preserve whitespace the
				// patch may have trimmed.
				segment = append(segment, lines[anchor+consumed])
				consumed++
			case LineDelete:
				consumed++
				res.Deleted++
			case LineAdd:
				segment = append(segment, dl.Content)
				res.Added++
			}
		}

		replaced := make([]string, 0, len(lines)-consumed+len(segment))
		replaced = append(replaced, lines[:anchor]...)
		replaced = append(replaced, segment...)
		replaced = append(replaced, lines[anchor+consumed:]...)
		lines = replaced
	}

	res.Content = strings.Join(lines, "\n")
	return res, nil
}

// anchorHunk locates where h applies in lines. It first tries the declared
// offset, then searches outward up to fuzzWindow lines, nearest offset
// first; at equal distance the earlier (before) offset is preferred. The
// full hunk context is re-verified before any candidate is accepted.
func anchorHunk(lines []string, h *DiffHunk) (int, bool) {
	declared := h.OldStart - 1
	if declared < 0 {
		declared = 0
	}
	if verifyAt(lines, declared, h) {
		return declared, true
	}

	needle, needleOff, needleOK := firstAnchorLine(h)
	if !needleOK {
		return 0, false
	}
	expected := declared + needleOff

	for dist := 1; dist <= fuzzWindow; dist++ {
		for _, cand := range []int{expected - dist, expected + dist} {
			if cand < 0 || cand >= len(lines) {
				continue
			}
			if !lineEqual(lines[cand], needle) {
				continue
			}
			anchor := cand - needleOff
			if anchor >= 0 && verifyAt(lines, anchor, h) {
				return anchor, true
			}
		}
	}
	return 0, false
}

// verifyAt checks that every context and delete line of h matches lines
// starting at pos, tolerating trailing whitespace differences.
func verifyAt(lines []string, pos int, h *DiffHunk) bool {
	idx := pos
	for _, dl := range h.Lines {
		if dl.Kind == LineAdd {
			continue
		}
		if idx >= len(lines) {
			return false
		}
		if !lineEqual(lines[idx], dl.Content) {
			return false
		}
		idx++
	}
	return true
}

// firstAnchorLine returns the first non-empty context or delete line of h
// and its offset among the hunk's old-file lines, used as the fuzzy-search
// needle.
func firstAnchorLine(h *DiffHunk) (string, int, bool) {
	off := 0
	for _, dl := range h.Lines {
		if dl.Kind == LineAdd {
			continue
		}
		if strings.TrimSpace(dl.Content) != "" {
			return dl.Content, off, true
		}
		off++
	}
	return "", 0, false
}

func lineEqual(a, b string) bool {
	return strings.TrimRight(a, " \t") == strings.TrimRight(b, " \t")
}
