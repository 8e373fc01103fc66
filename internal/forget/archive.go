package forget

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/clawbrain/internal/memory"
)

// archive moves aged files into the archive. A file qualifies when it is
// dated ArchiveDays or more before today and its month has a completion
// marker; anything else stays where it is.
func (c *Curve) archive(ctx context.Context, today time.Time, report *Report) {
	logger := zerolog.Ctx(ctx)
	cutoff := memory.CalendarDate(today, time.UTC).AddDate(0, 0, -c.opts.ArchiveDays)
	summarised := make(map[string]bool)

	isSummarised := func(month string) bool {
		if ok, cached := summarised[month]; cached {
			return ok
		}
		m, err := c.store.ReadMarker(month)
		if err != nil {
			logger.Warn().Err(err).Str("month", month).Msg("unreadable marker, treating month as unsummarised")
		}
		ok := err == nil && m != nil
		summarised[month] = ok
		return ok
	}

	for _, dir := range c.candidateDirs(ctx, c.opts.IncludeDailyMemory) {
		files, err := c.store.ListDated(dir)
		if err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("list failed")
			continue
		}
		latest := latestPerMonth(files)

		for _, f := range files {
			if ctx.Err() != nil {
				return
			}
			if f.Date.After(cutoff) {
				continue
			}
			month := f.Date.Format(memory.MonthLayout)
			if !isSummarised(month) {
				report.Retained++
				continue
			}
			if c.opts.KeepLatestInMonth && latest[month].Equal(f.Date) {
				report.Retained++
				continue
			}

			dst, err := c.store.MoveToArchive(f.Path)
			if err != nil {
				if errors.Is(err, memory.ErrArchiveConflict) {
					logger.Warn().Err(err).Str("file", f.Path).Msg("already archived, leaving in place")
				} else {
					logger.Error().Err(err).Str("file", f.Path).Msg("archive failed")
				}
				report.Errors = append(report.Errors, fmt.Errorf("archive %s: %w", f.Path, err))
				continue
			}
			logger.Info().Str("from", f.Path).Str("to", dst).Msg("archived")
			report.Archived = append(report.Archived, dst)
		}
	}
}

// candidateDirs lists every directory holding dated files: each neuron
// folder, the digest directory and optionally the daily memory directory.
func (c *Curve) candidateDirs(ctx context.Context, includeDaily bool) []string {
	layout := c.store.Layout()
	var dirs []string

	folders, err := c.store.ListSubdirs(layout.NeuronsDir())
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("list neuron folders")
	}
	for _, f := range folders {
		dirs = append(dirs, filepath.Join(layout.NeuronsDir(), f))
	}
	dirs = append(dirs, layout.DigestDir())
	if includeDaily {
		dirs = append(dirs, layout.MemoryDir())
	}
	return dirs
}

func latestPerMonth(files []memory.DatedFile) map[string]time.Time {
	latest := make(map[string]time.Time)
	for _, f := range files {
		month := f.Date.Format(memory.MonthLayout)
		if f.Date.After(latest[month]) {
			latest[month] = f.Date
		}
	}
	return latest
}
