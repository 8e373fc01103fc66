package skills

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Matcher finds procedural signals ("how to", "script", ...) in free text.
// Matching is a case-insensitive substring test.
type Matcher struct {
	keywords []string
}

func NewMatcher(patterns []string) *Matcher {
	return &Matcher{keywords: sanitizeKeywords(patterns)}
}

// Keywords returns the normalised keywords, sorted.
func (m *Matcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}

// Match returns the keywords found in text, in sorted order.
func (m *Matcher) Match(text string) []string {
	if m == nil || len(m.keywords) == 0 {
		return nil
	}
	folded := cases.Fold().String(text)
	var hits []string
	for _, k := range m.keywords {
		if strings.Contains(folded, k) {
			hits = append(hits, k)
		}
	}
	return hits
}

func sanitizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}

	fold := cases.Fold()
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		normalized := fold.String(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)

	return out
}
