package diffapply

import (
	"fmt"
	"strings"
	"testing"
)

const samplePatch = `--- a/src/app.js
+++ b/src/app.js
@@ -1,5 +1,6 @@
 const express = require('express');
+const cors = require('cors');
 const app = express();

-app.listen(3000);
+app.listen(process.env.PORT || 3000);
 module.exports = app;
`

const sampleOriginal = `const express = require('express');
const app = express();

app.listen(3000);
module.exports = app;
`

const sampleWant = `const express = require('express');
const cors = require('cors');
const app = express();

app.listen(process.env.PORT || 3000);
module.exports = app;
`

func TestParse(t *testing.T) {
	d := Parse(samplePatch)
	if !d.Valid {
		t.Fatalf("Valid = false, reason %q", d.Reason)
	}
	if d.FilePath() != "src/app.js" {
		t.Errorf("FilePath() = %q, want src/app.js", d.FilePath())
	}
	if len(d.Hunks) != 1 {
		t.Fatalf("len(Hunks) = %d, want 1", len(d.Hunks))
	}

	h := d.Hunks[0]
	if h.OldStart != 1 || h.OldCount != 5 || h.NewStart != 1 || h.NewCount != 6 {
		t.Errorf("hunk header = -%d,%d +%d,%d, want -1,5 +1,6",
			h.OldStart, h.OldCount, h.NewStart, h.NewCount)
	}

	var adds, dels, ctx int
	for _, l := range h.Lines {
		switch l.Kind {
		case LineAdd:
			adds++
		case LineDelete:
			dels++
		case LineContext:
			ctx++
		}
	}
	if adds != 2 || dels != 1 || ctx != 4 {
		t.Errorf("adds/dels/ctx = %d/%d/%d, want 2/1/4", adds, dels, ctx)
	}
}

func TestParseLineNumbers(t *testing.T) {
	d := Parse(samplePatch)
	h := d.Hunks[0]

	// First context line is old 1 / new 1; the inserted cors line is new 2.
	if h.Lines[0].OldLine != 1 || h.Lines[0].NewLine != 1 {
		t.Errorf("line 0 = old %d new %d, want 1/1", h.Lines[0].OldLine, h.Lines[0].NewLine)
	}
	if h.Lines[1].Kind != LineAdd || h.Lines[1].NewLine != 2 {
		t.Errorf("line 1 = kind %d new %d, want add/2", h.Lines[1].Kind, h.Lines[1].NewLine)
	}
}

func TestParseMissingCounts(t *testing.T) {
	patch := "--- a/f.txt\n+++ b/f.txt\n@@ -2 +2 @@\n-old\n+new\n"
	d := Parse(patch)
	if !d.Valid {
		t.Fatalf("Valid = false, reason %q", d.Reason)
	}
	h := d.Hunks[0]
	if h.OldCount != 1 || h.NewCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", h.OldCount, h.NewCount)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		patch string
	}{
		{"empty", ""},
		{"headers only", "--- a/f.txt\n+++ b/f.txt\n"},
		{"no path", "@@ -1,1 +1,1 @@\n-a\n+b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Parse(tt.patch)
			if d.Valid {
				t.Error("Valid = true, want false")
			}
			if d.Reason == "" {
				t.Error("Reason is empty")
			}
		})
	}
}

func TestParseIgnoresNoNewlineMarker(t *testing.T) {
	patch := "--- a/f.txt\n+++ b/f.txt\n@@ -1 +1 @@\n-old\n+new\n\\ No newline at end of file\n"
	d := Parse(patch)
	if !d.Valid {
		t.Fatalf("Valid = false, reason %q", d.Reason)
	}
	if len(d.Hunks[0].Lines) != 2 {
		t.Errorf("len(Lines) = %d, want 2", len(d.Hunks[0].Lines))
	}
}

func TestExtractFilePath(t *testing.T) {
	if got := ExtractFilePath(samplePatch); got != "src/app.js" {
		t.Errorf("ExtractFilePath = %q, want src/app.js", got)
	}
	if got := ExtractFilePath("no patch here"); got != "" {
		t.Errorf("ExtractFilePath = %q, want empty", got)
	}
	// Deleted file: +++ is /dev/null, fall back to the old path.
	del := "--- a/gone.txt\n+++ /dev/null\n@@ -1 +0,0 @@\n-bye\n"
	if got := ExtractFilePath(del); got != "gone.txt" {
		t.Errorf("ExtractFilePath = %q, want gone.txt", got)
	}
}

func TestApply(t *testing.T) {
	d := Parse(samplePatch)
	res, err := Apply(sampleOriginal, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Content != sampleWant {
		t.Errorf("Content:\n%q\nwant:\n%q", res.Content, sampleWant)
	}
	if res.Added != 2 || res.Deleted != 1 {
		t.Errorf("Added/Deleted = %d/%d, want 2/1", res.Added, res.Deleted)
	}
}

func TestApplyMultiHunkLastToFirst(t *testing.T) {
	original := "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10\n"
	patch := `--- a/f.txt
+++ b/f.txt
@@ -2,3 +2,4 @@
 l2
+l2.5
 l3
 l4
@@ -8,2 +9,2 @@
 l8
-l9
+l9-changed
`
	d := Parse(patch)
	if !d.Valid {
		t.Fatalf("invalid: %s", d.Reason)
	}
	res, err := Apply(original, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := "l1\nl2\nl2.5\nl3\nl4\nl5\nl6\nl7\nl8\nl9-changed\nl10\n"
	if res.Content != want {
		t.Errorf("Content:\n%q\nwant:\n%q", res.Content, want)
	}
}

func TestApplyFuzzyReanchor(t *testing.T) {
	// Shift every hunk position by k lines while keeping content identical;
	// the fuzzy search must still land on the right anchor for any k within
	// the window.
	base := make([]string, 0, 30)
	for i := 1; i <= 30; i++ {
		base = append(base, fmt.Sprintf("line %d", i))
	}
	original := strings.Join(base, "\n") + "\n"

	for k := -10; k <= 10; k++ {
		start := 14 + k
		if start < 1 {
			continue
		}
		patch := fmt.Sprintf(`--- a/f.txt
+++ b/f.txt
@@ -%d,3 +%d,3 @@
 line 14
-line 15
+line fifteen
 line 16
`, start, start)

		d := Parse(patch)
		res, err := Apply(original, d)
		if err != nil {
			t.Fatalf("k=%d: Apply: %v", k, err)
		}
		want := strings.Replace(original, "line 15\n", "line fifteen\n", 1)
		if res.Content != want {
			t.Errorf("k=%d: wrong content", k)
		}
	}
}

func TestApplyFuzzyTiePrefersEarlier(t *testing.T) {
	// Identical anchor candidates equally distant on both sides: the
	// earlier offset wins.
	original := "marker\nmid\nmarker\n"
	patch := `--- a/f.txt
+++ b/f.txt
@@ -2,1 +2,2 @@
 marker
+inserted
`
	d := Parse(patch)
	res, err := Apply(original, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := "marker\ninserted\nmid\nmarker\n"
	if res.Content != want {
		t.Errorf("Content = %q, want %q", res.Content, want)
	}
}

func TestApplyNoPartialApplication(t *testing.T) {
	original := "a\nb\nc\nd\ne\n"
	patch := `--- a/f.txt
+++ b/f.txt
@@ -1,2 +1,2 @@
 a
-b
+B
@@ -4,2 +4,2 @@
 d
-nonexistent line
+E
`
	d := Parse(patch)
	res, err := Apply(original, d)
	if err == nil {
		t.Fatal("Apply succeeded, want anchor failure")
	}
	if res.Content != original {
		t.Errorf("Content = %q, want original unchanged", res.Content)
	}
	if !strings.Contains(err.Error(), "hunk") {
		t.Errorf("error %q does not name the failing hunk", err)
	}
}

func TestApplyTrailingWhitespaceTolerant(t *testing.T) {
	original := "first  \nsecond\t\nthird\n"
	patch := "--- a/f.txt\n+++ b/f.txt\n@@ -1,3 +1,3 @@\n first\n-second\n+middle\n third\n"
	d := Parse(patch)
	res, err := Apply(original, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Context lines keep their original trailing whitespace.
	want := "first  \nmiddle\nthird\n"
	if res.Content != want {
		t.Errorf("Content = %q, want %q", res.Content, want)
	}
}

func TestApplyInvalidDiffIsCallerError(t *testing.T) {
	d := Parse("")
	res, err := Apply("content\n", d)
	if err == nil {
		t.Fatal("Apply on invalid diff succeeded")
	}
	if res.Content != "content\n" {
		t.Errorf("Content = %q, want original", res.Content)
	}
}

func TestApplyRoundTrip(t *testing.T) {
	// apply(old, parse(diff(old,new))) == new for a handful of hand-built
	// diffs covering inserts, deletes, and replacements.
	tests := []struct {
		name  string
		old   string
		patch string
		want  string
	}{
		{
			name:  "pure insert",
			old:   "a\nb\n",
			patch: "--- a/f\n+++ b/f\n@@ -1,2 +1,3 @@\n a\n+x\n b\n",
			want:  "a\nx\nb\n",
		},
		{
			name:  "pure delete",
			old:   "a\nx\nb\n",
			patch: "--- a/f\n+++ b/f\n@@ -1,3 +1,2 @@\n a\n-x\n b\n",
			want:  "a\nb\n",
		},
		{
			name:  "replace at start",
			old:   "old first\nrest\n",
			patch: "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n-old first\n+new first\n rest\n",
			want:  "new first\nrest\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Parse(tt.patch)
			if !d.Valid {
				t.Fatalf("invalid: %s", d.Reason)
			}
			res, err := Apply(tt.old, d)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if res.Content != tt.want {
				t.Errorf("Content = %q, want %q", res.Content, tt.want)
			}
		})
	}
}

func TestParseStopsAfterDeclaredCounts(t *testing.T) {
	// A patch ending in a newline splits into a final empty element; a
	// hunk body must end with its declared counts, not absorb it.
	patch := "--- a/f.txt\n+++ b/f.txt\n@@ -1,2 +1,2 @@\n a\n-b\n+B\n"
	d := Parse(patch)
	if !d.Valid {
		t.Fatalf("Valid = false, reason %q", d.Reason)
	}
	if n := len(d.Hunks[0].Lines); n != 3 {
		t.Fatalf("len(Lines) = %d, want 3", n)
	}

	patch = "--- a/f.txt\n+++ b/f.txt\n@@ -1 +1 @@\n-old\n+new\ntrailing noise\n"
	d = Parse(patch)
	if !d.Valid {
		t.Fatalf("Valid = false, reason %q", d.Reason)
	}
	if n := len(d.Hunks[0].Lines); n != 2 {
		t.Errorf("len(Lines) = %d, want 2 (noise after the body ignored)", n)
	}
}

func TestApplyFinalHunkShortOfEOF(t *testing.T) {
	patch := "--- a/f.txt\n+++ b/f.txt\n@@ -1,2 +1,2 @@\n a\n-b\n+B\n"
	d := Parse(patch)
	if !d.Valid {
		t.Fatalf("Valid = false, reason %q", d.Reason)
	}
	res, err := Apply("a\nb\nc\nd\n", d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Content != "a\nB\nc\nd\n" {
		t.Errorf("Content = %q, want %q", res.Content, "a\nB\nc\nd\n")
	}
}

func TestApplyToEmptyOriginal(t *testing.T) {
	patch := "--- /dev/null\n+++ b/conf.json\n@@ -0,0 +1,2 @@\n+{\n+}\n"
	d := Parse(patch)
	if !d.Valid {
		t.Fatalf("Valid = false, reason %q", d.Reason)
	}
	res, err := Apply("", d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Content != "{\n}" {
		t.Errorf("Content = %q, want %q", res.Content, "{\n}")
	}
	if res.Added != 2 {
		t.Errorf("Added = %d, want 2", res.Added)
	}
}
