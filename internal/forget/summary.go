package forget

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/clawbrain/internal/classify"
	"github.com/stellarlinkco/clawbrain/internal/memory"
)

const maxHighlightsPerDay = 10

type categorySummary struct {
	cat     classify.Category
	days    int
	entries int
}

// summarize writes the per-category summaries and the overview of month,
// then the completion marker. The marker is only written when every
// summary was. Nothing is written when the month has fewer than minFiles
// dated files, so archived months never lose summarised entries.
func (c *Curve) summarize(ctx context.Context, month time.Time, minFiles int, report *Report) ([]string, bool) {
	name := month.Format(memory.MonthLayout)
	logger := zerolog.Ctx(ctx).With().Str("month", name).Logger()
	layout := c.store.Layout()

	type categoryFiles struct {
		cat   classify.Category
		dated []memory.DatedFile
	}
	var (
		sources []categoryFiles
		files   int
	)
	for _, cat := range c.categories() {
		dated := c.inMonth(ctx, layout.NeuronDir(cat.Folder), month)
		if len(dated) == 0 {
			continue
		}
		files += len(dated)
		sources = append(sources, categoryFiles{cat: cat, dated: dated})
	}
	daily := c.inMonth(ctx, layout.MemoryDir(), month)
	digests := c.inMonth(ctx, layout.DigestDir(), month)
	files += len(daily) + len(digests)
	if files == 0 {
		logger.Info().Msg("nothing to summarise")
		return nil, false
	}
	if files < minFiles {
		err := fmt.Errorf("%w: %s has %d files, marker recorded %d", ErrSummaryShrink, name, files, minFiles)
		logger.Warn().Err(err).Msg("keeping existing summaries")
		report.Errors = append(report.Errors, err)
		return nil, false
	}

	var (
		written  []string
		counts   []categorySummary
		complete = true
	)
	for _, src := range sources {
		cat := src.cat
		doc, stat := c.renderCategory(ctx, cat, name, src.dated)
		if stat.days == 0 {
			continue
		}
		path, err := c.store.WriteMonthly(cat.Folder, name, doc)
		if err != nil {
			err = fmt.Errorf("write summary %s/%s: %w", cat.Folder, name, err)
			logger.Error().Err(err).Msg("write failed")
			report.Errors = append(report.Errors, err)
			complete = false
			continue
		}
		logger.Info().Str("category", cat.Key).Int("entries", stat.entries).Str("path", path).Msg("category summary written")
		written = append(written, path)
		counts = append(counts, stat)
	}

	overview := c.renderOverview(ctx, name, daily, digests, counts)
	path, err := c.store.WriteMonthly("", name, overview)
	if err != nil {
		err = fmt.Errorf("write overview %s: %w", name, err)
		logger.Error().Err(err).Msg("write failed")
		report.Errors = append(report.Errors, err)
		complete = false
	} else {
		written = append(written, path)
	}

	if !complete {
		logger.Warn().Msg("summaries incomplete, marker not written")
		return written, false
	}

	keys := make([]string, 0, len(counts))
	for _, s := range counts {
		keys = append(keys, s.cat.Key)
	}
	marker := memory.MonthMarker{Month: name, Categories: keys, Files: files, CompletedAt: c.opts.Now().UTC()}
	if _, err := c.store.WriteMarker(marker); err != nil {
		err = fmt.Errorf("write marker %s: %w", name, err)
		logger.Error().Err(err).Msg("write failed")
		report.Errors = append(report.Errors, err)
		return written, false
	}
	logger.Info().Int("files", files).Msg("month summarised")
	return written, true
}

// backfill summarises unmarked months before target, oldest first.
func (c *Curve) backfill(ctx context.Context, target time.Time, report *Report) {
	months := make(map[string]time.Time)
	for _, dir := range c.candidateDirs(ctx, true) {
		files, err := c.store.ListDated(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			m := memory.MonthStart(f.Date)
			if m.Before(target) {
				months[m.Format(memory.MonthLayout)] = m
			}
		}
	}

	names := make([]string, 0, len(months))
	for n := range months {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if ctx.Err() != nil {
			return
		}
		if m, err := c.store.ReadMarker(n); err == nil && m != nil {
			continue
		}
		written, ok := c.summarize(ctx, months[n], 0, report)
		report.Summaries = append(report.Summaries, written...)
		if ok {
			report.Backfilled = append(report.Backfilled, n)
		}
	}
}

// categories lists configured categories followed by the fallback.
func (c *Curve) categories() []classify.Category {
	cats := c.rules.Categories()
	fb := c.rules.Fallback()
	for _, cat := range cats {
		if cat.Key == fb.Key {
			return cats
		}
	}
	return append(cats, fb)
}

func (c *Curve) inMonth(ctx context.Context, dir string, month time.Time) []memory.DatedFile {
	files, err := c.store.ListDated(dir)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("dir", dir).Msg("list failed")
		return nil
	}
	var out []memory.DatedFile
	for _, f := range files {
		if memory.MonthStart(f.Date).Equal(month) {
			out = append(out, f)
		}
	}
	return out
}

// renderCategory condenses a month of neuron files: titles and signal
// annotations dropped, repeated lines kept once, grouped by day.
func (c *Curve) renderCategory(ctx context.Context, cat classify.Category, month string, files []memory.DatedFile) ([]byte, categorySummary) {
	logger := zerolog.Ctx(ctx)
	stat := categorySummary{cat: cat}

	type day struct {
		date  string
		lines []string
	}
	var (
		days    []day
		seen    = make(map[string]struct{})
		total   int
		omitted int
	)
	for _, f := range files {
		data, err := c.store.ReadFile(f.Path)
		if err != nil {
			logger.Warn().Err(err).Str("file", f.Path).Msg("skipping unreadable file")
			continue
		}
		stat.days++
		d := day{date: f.Name()}
		for _, line := range neuronLines(string(data)) {
			if _, dup := seen[line]; dup {
				continue
			}
			seen[line] = struct{}{}
			if total >= c.opts.SummaryMaxEntries {
				omitted++
				continue
			}
			total++
			d.lines = append(d.lines, line)
		}
		if len(d.lines) > 0 {
			days = append(days, d)
		}
	}
	stat.entries = total + omitted

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", cat.DisplayName, month)
	fmt.Fprintf(&b, "%d entries from %d days\n", stat.entries, stat.days)
	for _, d := range days {
		fmt.Fprintf(&b, "\n## %s\n\n", d.date)
		for _, l := range d.lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "\n_+%d more entries omitted_\n", omitted)
	}
	return []byte(b.String()), stat
}

// neuronLines returns the content lines of a neuron file.
func neuronLines(doc string) []string {
	var out []string
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "# "):
		case strings.HasPrefix(line, "<!--") && strings.HasSuffix(line, "-->"):
		default:
			out = append(out, line)
		}
	}
	return out
}

func (c *Curve) renderOverview(ctx context.Context, month string, daily, digests []memory.DatedFile, counts []categorySummary) []byte {
	logger := zerolog.Ctx(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "# Monthly Summary: %s\n\n", month)

	b.WriteString("## Daily Highlights\n")
	days := 0
	for _, f := range daily {
		data, err := c.store.ReadFile(f.Path)
		if err != nil {
			logger.Warn().Err(err).Str("file", f.Path).Msg("skipping unreadable daily memory")
			continue
		}
		highlights := dailyHighlights(string(data))
		if len(highlights) == 0 {
			continue
		}
		days++
		fmt.Fprintf(&b, "\n### %s\n", f.Name())
		for _, h := range highlights {
			b.WriteString(h)
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "\n_%d days_\n", days)

	b.WriteString("\n## Neuron Summary\n\n")
	if len(counts) == 0 {
		b.WriteString("No neuron files.\n")
	}
	for _, s := range counts {
		fmt.Fprintf(&b, "- %s: %d entries across %d days\n", s.cat.DisplayName, s.entries, s.days)
	}

	b.WriteString("\n## Chat Highlights\n\n")
	chats := 0
	for _, f := range digests {
		data, err := c.store.ReadFile(f.Path)
		if err != nil {
			logger.Warn().Err(err).Str("file", f.Path).Msg("skipping unreadable digest")
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "### ") && strings.Contains(line, " Chat: ") {
				fmt.Fprintf(&b, "- %s: %s\n", f.Name(), strings.TrimPrefix(line, "### "))
				chats++
			}
		}
	}
	if chats == 0 {
		b.WriteString("No chats.\n")
	}
	return []byte(b.String())
}

// dailyHighlights picks section headings, starred and bold bullets.
func dailyHighlights(doc string) []string {
	var out []string
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "- ⭐") || strings.HasPrefix(line, "- **") {
			out = append(out, line)
			if len(out) == maxHighlightsPerDay {
				break
			}
		}
	}
	return out
}
