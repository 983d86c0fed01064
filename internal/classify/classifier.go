// Package classify maps raw build/runtime error text to a category, a
// severity, and a cost-tiered repair strategy without any model call.
//
// Classification is a pure lookup over ordered regex rule tables, evaluated
// cheapest-tier-first: deterministic fixes (missing dependency, canned config
// file, busy port) are checked before anything that would need a model.
// Classification never fails — text nothing matches falls through to the
// unknown category at the deep-model tier.
package classify

import "strings"

// Classifier holds the ordered rule and location tables. Construct one per
// job controller; it is stateless and safe for concurrent use.
type Classifier struct {
	rules     []rule
	locations []locationPattern
}

// New returns a Classifier with the built-in rule tables.
func New() *Classifier {
	return &Classifier{
		rules:     defaultRules(),
		locations: defaultLocationPatterns(),
	}
}

// Classify matches text against the rule tables and returns a fresh
// ClassifiedError. The first matching rule wins. Sub-millisecond for
// typical error lines.
func (c *Classifier) Classify(text string) *ClassifiedError {
	for i := range c.rules {
		r := &c.rules[i]
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		ce := &ClassifiedError{
			Category:   r.category,
			Severity:   r.severity,
			Tier:       r.tier,
			Rule:       r.name,
			Message:    firstLine(m[0]),
			Confidence: r.confidence,
		}
		if r.fix != nil {
			ce.FixCommand, ce.FixPath, ce.FixContent = r.fix(m)
			// A dependency rule can decline to synthesize a fix (e.g.
			// relative specifier); it then needs a model after all.
			if ce.FixCommand == "" && ce.FixPath == "" {
				ce.Tier = TierFastModel
			}
		}
		ce.File, ce.Line = extractLocation(c.locations, text)
		return ce
	}

	return &ClassifiedError{
		Category:   CategoryUnknown,
		Severity:   SeverityMedium,
		Tier:       TierDeepModel,
		Rule:       "fallthrough",
		Message:    firstLine(text),
		Confidence: 0.3,
	}
}

// Matches reports whether any rule matches text, without allocating a
// result. Used by callers that only need a cheap "is this an error line"
// probe.
func (c *Classifier) Matches(text string) bool {
	for i := range c.rules {
		if c.rules[i].re.MatchString(text) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 300
	if len(s) > max {
		s = s[:max]
	}
	return s
}
