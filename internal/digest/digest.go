// Package digest turns raw session transcripts into one readable markdown
// digest per day.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/clawbrain/internal/memory"
)

// Writer persists a rendered digest.
type Writer interface {
	WriteDigest(date string, data []byte) (string, error)
}

type Options struct {
	MaxMessageChars int
	Location        *time.Location
}

type Digester struct {
	source SessionSource
	out    Writer
	opts   Options
}

func New(source SessionSource, out Writer, opts Options) *Digester {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Digester{source: source, out: out, opts: opts}
}

type Report struct {
	Written  []string
	Skipped  []string
	BadLines int
	Errors   []error
}

func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

// Run digests each date. Dates without transcripts are skipped and the
// run moves on.
func (d *Digester) Run(ctx context.Context, dates ...time.Time) *Report {
	report := &Report{}
	for _, date := range dates {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, ctx.Err())
			break
		}
		d.runDate(ctx, date, report)
	}
	return report
}

func (d *Digester) runDate(ctx context.Context, date time.Time, report *Report) {
	name := memory.FormatDate(date)
	logger := zerolog.Ctx(ctx).With().Str("date", name).Logger()

	batch, err := d.source.Sessions(ctx, date)
	if err != nil {
		if errors.Is(err, ErrNoSessions) {
			logger.Warn().Err(err).Msg("no sessions, skipping")
			report.Skipped = append(report.Skipped, name)
			return
		}
		logger.Error().Err(err).Msg("read sessions")
		report.Errors = append(report.Errors, err)
		return
	}

	kept, dropped := Filter(batch.Sessions, d.opts.MaxMessageChars)
	stats := BuildStats(kept, dropped, batch.BadLines)
	data := Render(name, kept, stats, d.opts.Location)

	path, err := d.out.WriteDigest(name, data)
	if err != nil {
		err = fmt.Errorf("write digest %s: %w", name, err)
		logger.Error().Err(err).Msg("write failed")
		report.Errors = append(report.Errors, err)
		return
	}
	report.Written = append(report.Written, path)
	report.BadLines += batch.BadLines
	logger.Info().
		Int("sessions", len(kept)).
		Int("messages", stats.Messages).
		Int("dropped", dropped).
		Int("bad_lines", batch.BadLines).
		Str("path", path).
		Msg("digest written")
}
