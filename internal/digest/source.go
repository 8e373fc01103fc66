package digest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/clawbrain/internal/memory"
)

// ErrNoSessions is returned when no transcript contributes to a date. The
// date is skipped, not failed.
var ErrNoSessions = errors.New("no sessions for date")

// Batch is everything a source found for one date.
type Batch struct {
	Sessions []*Session
	Files    []string
	BadLines int
}

// SessionSource yields the sessions of one calendar date.
type SessionSource interface {
	Sessions(ctx context.Context, date time.Time) (*Batch, error)
}

// DirSource reads transcripts from a directory. A file named
// {date}.jsonl holds exactly that date. Otherwise every file matching the
// glob and modified within a day of the date is parsed, and sessions that
// started on the date are kept.
type DirSource struct {
	dir     string
	pattern glob.Glob
	loc     *time.Location
}

func NewDirSource(dir, pattern string, loc *time.Location) (*DirSource, error) {
	if pattern == "" {
		pattern = "*.jsonl"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile sessions glob %q: %w", pattern, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DirSource{dir: dir, pattern: g, loc: loc}, nil
}

func (s *DirSource) Sessions(ctx context.Context, date time.Time) (*Batch, error) {
	name := memory.FormatDate(date)
	dated := filepath.Join(s.dir, name+".jsonl")
	if _, err := os.Stat(dated); err == nil {
		sessions, bad, err := parseFile(dated)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, fmt.Errorf("%s: no readable records: %w", dated, ErrNoSessions)
		}
		return &Batch{Sessions: sessions, Files: []string{dated}, BadLines: bad}, nil
	}
	return s.scan(ctx, date)
}

func (s *DirSource) scan(ctx context.Context, date time.Time) (*Batch, error) {
	logger := zerolog.Ctx(ctx)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("sessions dir %s missing: %w", s.dir, ErrNoSessions)
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	y, m, d := date.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	windowStart := dayStart.AddDate(0, 0, -1)
	windowEnd := dayStart.AddDate(0, 0, 2)

	batch := &Batch{}
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.IsDir() || !s.pattern.Match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mt := info.ModTime(); mt.Before(windowStart) || !mt.Before(windowEnd) {
			continue
		}

		path := filepath.Join(s.dir, e.Name())
		sessions, bad, err := parseFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable transcript")
			continue
		}
		contributed := false
		for _, sess := range sessions {
			if sess.Start.IsZero() || !memory.CalendarDate(sess.Start, s.loc).Equal(date) {
				continue
			}
			batch.Sessions = append(batch.Sessions, sess)
			contributed = true
		}
		if contributed {
			batch.Files = append(batch.Files, path)
			batch.BadLines += bad
		}
	}

	if len(batch.Files) == 0 {
		return nil, fmt.Errorf("%s: %w", memory.FormatDate(date), ErrNoSessions)
	}
	return batch, nil
}

func parseFile(path string) ([]*Session, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	sessions, bad, err := ParseSessions(f)
	if err != nil {
		return nil, bad, fmt.Errorf("%s: %w", path, err)
	}
	return sessions, bad, nil
}
