// Package forget implements the forgetting curve: monthly summaries of
// aged memory followed by archival of files whose month is summarised.
package forget

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/clawbrain/internal/classify"
	"github.com/stellarlinkco/clawbrain/internal/memory"
)

// ErrSummaryShrink is returned when re-summarising a month would drop
// entries its completion marker accounted for, typically because some of
// its files were archived since.
var ErrSummaryShrink = errors.New("summary would lose archived files")

// Store is the slice of the workspace the forgetting curve touches.
type Store interface {
	Layout() memory.Layout
	ListDated(dir string) ([]memory.DatedFile, error)
	ListSubdirs(dir string) ([]string, error)
	ReadFile(path string) ([]byte, error)
	WriteMonthly(folder, month string, data []byte) (string, error)
	ReadMarker(month string) (*memory.MonthMarker, error)
	WriteMarker(m memory.MonthMarker) (string, error)
	MoveToArchive(path string) (string, error)
}

type Options struct {
	ArchiveDays       int
	MonthlySummary    bool
	SummaryMaxEntries int
	// KeepLatestInMonth leaves the most recent dated file of each
	// directory and month in place even when it has aged out.
	KeepLatestInMonth bool
	// IncludeDailyMemory also archives memory/{date}.md files.
	IncludeDailyMemory bool
	// Backfill summarises every earlier month that has files but no
	// completion marker.
	Backfill bool
	// SummaryOnly skips archival.
	SummaryOnly bool
	// Force re-summarises a month that already has a completion marker.
	Force bool
	Now   func() time.Time
}

type Curve struct {
	store Store
	rules *classify.Rules
	opts  Options
}

func New(store Store, rules *classify.Rules, opts Options) *Curve {
	if opts.ArchiveDays <= 0 {
		opts.ArchiveDays = 90
	}
	if opts.SummaryMaxEntries <= 0 {
		opts.SummaryMaxEntries = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Curve{store: store, rules: rules, opts: opts}
}

type Report struct {
	Month         string
	Summaries     []string
	MarkerWritten bool
	// AlreadySummarised is set when the month had a marker and was left
	// as it was.
	AlreadySummarised bool
	Backfilled        []string
	Archived          []string
	Retained          int
	Errors            []error
}

func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

// Run summarises month (the month before today when zero) and then archives
// every file dated at least ArchiveDays before today whose month carries a
// completion marker.
func (c *Curve) Run(ctx context.Context, today, month time.Time) *Report {
	if month.IsZero() {
		month = memory.PreviousMonth(today)
	}
	month = memory.MonthStart(month)
	report := &Report{Month: month.Format(memory.MonthLayout)}
	logger := zerolog.Ctx(ctx)

	if c.opts.MonthlySummary {
		if c.opts.Backfill {
			c.backfill(ctx, month, report)
		}
		c.summarizeTarget(ctx, month, report)
	} else {
		logger.Info().Msg("monthly summary disabled")
	}

	if c.opts.SummaryOnly || ctx.Err() != nil {
		return report
	}
	c.archive(ctx, today, report)
	return report
}

// summarizeTarget summarises the target month unless it is already marked
// complete. Forced re-runs must account for at least the marker's files.
func (c *Curve) summarizeTarget(ctx context.Context, month time.Time, report *Report) {
	logger := zerolog.Ctx(ctx)

	prior, err := c.store.ReadMarker(report.Month)
	if err != nil {
		logger.Warn().Err(err).Str("month", report.Month).Msg("unreadable marker, summarising again")
		prior = nil
	}
	minFiles := 0
	if prior != nil {
		if !c.opts.Force {
			logger.Info().Str("month", report.Month).Time("completedAt", prior.CompletedAt).Msg("month already summarised")
			report.AlreadySummarised = true
			return
		}
		minFiles = prior.Files
	}

	written, ok := c.summarize(ctx, month, minFiles, report)
	report.Summaries = append(report.Summaries, written...)
	report.MarkerWritten = ok
}
