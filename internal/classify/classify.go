// Package classify assigns daily memory entries to neuron categories by
// keyword rules. Everything here is pure: no I/O, no clock.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/stellarlinkco/clawbrain/internal/config"
	"github.com/stellarlinkco/clawbrain/internal/memory"
	"github.com/stellarlinkco/clawbrain/internal/skills"
)

// Category is a compiled category rule.
type Category struct {
	Key         string
	DisplayName string
	Folder      string
	Patterns    []string
	Indicators  []string
}

// Match is the signal of one category for one entry.
type Match struct {
	Category   string
	Patterns   []string
	Indicators []string
	Score      int
	// Fallback is set when no pattern of any category occurred.
	Fallback bool
}

// NeuronEntry is an entry routed into one category.
type NeuronEntry struct {
	Category string
	Entry    memory.Entry
	Signal   Match
}

// Rules is the compiled, immutable category set. It is safe for concurrent
// use.
type Rules struct {
	categories []Category
	byKey      map[string]Category
	fallback   Category
	procedural *skills.Matcher
}

// NewRules compiles cfg. cfg must have passed Validate.
func NewRules(cfg *config.CategoryConfig) (*Rules, error) {
	if cfg == nil || len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("%w: no categories configured", config.ErrConfig)
	}

	r := &Rules{
		byKey:      make(map[string]Category, len(cfg.Categories)+1),
		procedural: skills.NewMatcher(cfg.SkillPatterns),
	}
	for _, key := range cfg.Keys() {
		src := cfg.Categories[key]
		c := Category{
			Key:         key,
			DisplayName: cfg.DisplayNameFor(key),
			Folder:      cfg.FolderFor(key),
			Patterns:    normalize(src.Patterns),
			Indicators:  normalize(src.Indicators),
		}
		if len(c.Patterns) == 0 {
			return nil, fmt.Errorf("%w: category %q has no usable patterns", config.ErrConfig, key)
		}
		r.categories = append(r.categories, c)
		r.byKey[key] = c
	}

	fb := cfg.Fallback()
	if c, ok := r.byKey[fb]; ok {
		r.fallback = c
	} else {
		r.fallback = Category{Key: fb, DisplayName: cfg.DisplayNameFor(fb), Folder: cfg.FolderFor(fb)}
		r.byKey[fb] = r.fallback
	}
	return r, nil
}

// normalize folds, trims and de-duplicates terms, keeping first-seen order.
func normalize(terms []string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(terms))
	var out []string
	for _, t := range terms {
		t = fold.String(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Categories returns the configured categories sorted by key. The fallback
// is included only when it is itself configured.
func (r *Rules) Categories() []Category {
	return append([]Category(nil), r.categories...)
}

func (r *Rules) Fallback() Category {
	return r.fallback
}

// Category looks up a configured category or the fallback.
func (r *Rules) Category(key string) (Category, bool) {
	c, ok := r.byKey[key]
	return c, ok
}

// Classify returns every category whose patterns occur in text, ordered by
// category key. Indicators are recorded but never produce a match on their
// own. When nothing matches, the single result is the fallback category.
func (r *Rules) Classify(text string) []Match {
	folded := cases.Fold().String(text)

	var matches []Match
	for _, c := range r.categories {
		patterns := contained(folded, c.Patterns)
		if len(patterns) == 0 {
			continue
		}
		indicators := contained(folded, c.Indicators)
		matches = append(matches, Match{
			Category:   c.Key,
			Patterns:   patterns,
			Indicators: indicators,
			Score:      2*len(patterns) + len(indicators),
		})
	}
	if len(matches) == 0 {
		fb := Match{Category: r.fallback.Key, Fallback: true}
		if len(r.fallback.Indicators) > 0 {
			fb.Indicators = contained(folded, r.fallback.Indicators)
			fb.Score = len(fb.Indicators)
		}
		return []Match{fb}
	}
	return matches
}

// Procedural returns the skill patterns found in text.
func (r *Rules) Procedural(text string) []string {
	return r.procedural.Match(text)
}

// ClassifyAll groups entries by category. Within a category, entries keep
// their daily-file order.
func (r *Rules) ClassifyAll(entries []memory.Entry) map[string][]NeuronEntry {
	sorted := append([]memory.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	out := make(map[string][]NeuronEntry)
	for _, e := range sorted {
		for _, m := range r.Classify(e.Text) {
			out[m.Category] = append(out[m.Category], NeuronEntry{
				Category: m.Category,
				Entry:    e,
				Signal:   m,
			})
		}
	}
	return out
}

func contained(folded string, terms []string) []string {
	var hits []string
	for _, t := range terms {
		if strings.Contains(folded, t) {
			hits = append(hits, t)
		}
	}
	return hits
}
