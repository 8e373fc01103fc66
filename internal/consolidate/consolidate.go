// Package consolidate turns a day of daily memory into per-category neuron
// files and keeps the procedural skills index up to date.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/clawbrain/internal/classify"
	"github.com/stellarlinkco/clawbrain/internal/memory"
	"github.com/stellarlinkco/clawbrain/internal/skills"
)

// Store is the slice of the workspace the consolidator touches.
type Store interface {
	ReadDailyEntries(date string) ([]memory.Entry, error)
	WriteNeuronFile(folder, date string, data []byte) (string, error)
	RemoveNeuronFile(folder, date string) (bool, error)
	ReadSkillsIndex() ([]byte, error)
	WriteSkillsIndex(data []byte) (string, error)
}

type Options struct {
	// AnnotateSignals appends the matched patterns and indicators to each
	// entry as an HTML comment.
	AnnotateSignals bool
}

type Consolidator struct {
	store Store
	rules *classify.Rules
	opts  Options
}

func New(store Store, rules *classify.Rules, opts Options) *Consolidator {
	return &Consolidator{store: store, rules: rules, opts: opts}
}

// Report is the outcome of one run over one or more dates.
type Report struct {
	Consolidated []string
	Skipped      []string
	Written      []string
	// Removed lists "folder/date" neuron files dropped because their
	// category no longer receives entries for that date.
	Removed     []string
	SkillsAdded int
	Errors      []error
}

// Failed reports whether any file could not be written.
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

// Run consolidates each date in turn. A date without a daily memory file is
// skipped; a failed write is recorded and the remaining files and dates are
// still processed.
func (c *Consolidator) Run(ctx context.Context, dates ...time.Time) *Report {
	report := &Report{}
	for _, d := range dates {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, ctx.Err())
			break
		}
		c.runDate(ctx, memory.FormatDate(d), report)
	}
	return report
}

func (c *Consolidator) runDate(ctx context.Context, date string, report *Report) {
	logger := zerolog.Ctx(ctx).With().Str("date", date).Logger()

	entries, err := c.store.ReadDailyEntries(date)
	if err != nil {
		if errors.Is(err, memory.ErrNoInput) {
			logger.Warn().Msg("no daily memory, skipping")
			report.Skipped = append(report.Skipped, date)
			return
		}
		logger.Error().Err(err).Msg("read daily memory")
		report.Errors = append(report.Errors, err)
		return
	}
	grouped := c.rules.ClassifyAll(entries)
	c.removeStale(date, grouped, report, logger)
	if len(entries) == 0 {
		logger.Info().Msg("daily memory has no entries")
		report.Consolidated = append(report.Consolidated, date)
		return
	}

	for _, cat := range c.outputOrder(grouped) {
		data := Render(date, cat, grouped[cat.Key], c.opts.AnnotateSignals)
		path, err := c.store.WriteNeuronFile(cat.Folder, date, data)
		if err != nil {
			err = fmt.Errorf("write neuron %s/%s: %w", cat.Folder, date, err)
			logger.Error().Err(err).Str("category", cat.Key).Msg("write failed")
			report.Errors = append(report.Errors, err)
			continue
		}
		logger.Info().
			Str("category", cat.Key).
			Int("entries", len(grouped[cat.Key])).
			Str("path", path).
			Msg("neuron file written")
		report.Written = append(report.Written, path)
	}

	added, err := c.mergeSkills(date, entries)
	if err != nil {
		logger.Error().Err(err).Msg("update skills index")
		report.Errors = append(report.Errors, err)
	} else if added > 0 {
		logger.Info().Int("added", added).Msg("skills index updated")
	}
	report.SkillsAdded += added
	report.Consolidated = append(report.Consolidated, date)
}

// removeStale deletes the date's neuron file of every known category that
// no longer receives entries, so a re-run after the daily file changed
// leaves the same files a first run would.
func (c *Consolidator) removeStale(date string, grouped map[string][]classify.NeuronEntry, report *Report, logger zerolog.Logger) {
	for _, cat := range c.allCategories() {
		if len(grouped[cat.Key]) > 0 {
			continue
		}
		removed, err := c.store.RemoveNeuronFile(cat.Folder, date)
		if err != nil {
			logger.Error().Err(err).Str("category", cat.Key).Msg("remove failed")
			report.Errors = append(report.Errors, err)
			continue
		}
		if removed {
			logger.Info().Str("category", cat.Key).Msg("stale neuron file removed")
			report.Removed = append(report.Removed, cat.Folder+"/"+date)
		}
	}
}

func (c *Consolidator) allCategories() []classify.Category {
	cats := c.rules.Categories()
	fb := c.rules.Fallback()
	for _, cat := range cats {
		if cat.Key == fb.Key {
			return cats
		}
	}
	return append(cats, fb)
}

// outputOrder lists the categories that received entries, configured
// categories first (by key) and the fallback last.
func (c *Consolidator) outputOrder(grouped map[string][]classify.NeuronEntry) []classify.Category {
	var out []classify.Category
	seen := make(map[string]bool)
	for _, cat := range c.rules.Categories() {
		if len(grouped[cat.Key]) > 0 {
			out = append(out, cat)
			seen[cat.Key] = true
		}
	}
	fb := c.rules.Fallback()
	if !seen[fb.Key] && len(grouped[fb.Key]) > 0 {
		out = append(out, fb)
	}
	return out
}

func (c *Consolidator) mergeSkills(date string, entries []memory.Entry) (int, error) {
	var candidates []memory.Entry
	for _, e := range entries {
		if e.Kind == memory.KindHeading {
			continue
		}
		if len(c.rules.Procedural(e.Text)) > 0 {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	data, err := c.store.ReadSkillsIndex()
	if err != nil {
		return 0, err
	}
	idx := skills.ParseIndex(data)
	added := 0
	for _, e := range candidates {
		if idx.Add(date, e.Text) {
			added++
		}
	}
	if added == 0 {
		return 0, nil
	}
	if _, err := c.store.WriteSkillsIndex(idx.Render()); err != nil {
		return 0, fmt.Errorf("write skills index: %w", err)
	}
	return added, nil
}

// Render builds the neuron file of one category for one date. Entries are
// written as they appear in the daily file; the output depends only on its
// arguments.
func Render(date string, cat classify.Category, entries []classify.NeuronEntry, annotate bool) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n", date, cat.DisplayName)

	prevKind := memory.KindParagraph
	for i, ne := range entries {
		kind := ne.Entry.Kind
		if i == 0 || kind != memory.KindBullet || prevKind != memory.KindBullet {
			b.WriteByte('\n')
		}
		b.WriteString(ne.Entry.Raw)
		b.WriteByte('\n')
		if annotate {
			b.WriteString(annotation(ne.Signal))
			b.WriteByte('\n')
		}
		prevKind = kind
	}
	return []byte(b.String())
}

func annotation(m classify.Match) string {
	if m.Fallback {
		return "<!-- fallback -->"
	}
	s := "<!-- patterns: " + strings.Join(m.Patterns, ", ")
	if len(m.Indicators) > 0 {
		s += " | indicators: " + strings.Join(m.Indicators, ", ")
	}
	return s + " -->"
}
