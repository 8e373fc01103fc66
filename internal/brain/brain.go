// Package brain wires configuration, the workspace store and the three
// pipeline stages together, and hosts the long-running daemon.
package brain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stellarlinkco/clawbrain/internal/classify"
	"github.com/stellarlinkco/clawbrain/internal/config"
	"github.com/stellarlinkco/clawbrain/internal/consolidate"
	"github.com/stellarlinkco/clawbrain/internal/cron"
	"github.com/stellarlinkco/clawbrain/internal/digest"
	"github.com/stellarlinkco/clawbrain/internal/forget"
	"github.com/stellarlinkco/clawbrain/internal/memory"
	"github.com/stellarlinkco/clawbrain/internal/watcher"
)

// Options for creating a Brain
type Options struct {
	// StatePath overrides where scheduler state is kept.
	StatePath string
	// Sessions overrides the transcript source.
	Sessions   digest.SessionSource
	SignalChan chan os.Signal // for testing signal handling
	Debounce   time.Duration
}

type Brain struct {
	cfg   *config.Config
	sched *config.ScheduleConfig
	cats  *config.CategoryConfig
	store *memory.FileStore
	rules *classify.Rules

	sessions   digest.SessionSource
	cron       *cron.Service
	watcher    *watcher.Watcher
	debounce   time.Duration
	signalChan chan os.Signal

	// consolidateMu serialises consolidation between the scheduler and the
	// watcher; both update the shared skills index.
	consolidateMu sync.Mutex
}

// New creates a Brain with default options. cats may be nil for commands
// that only digest.
func New(cfg *config.Config, sched *config.ScheduleConfig, cats *config.CategoryConfig) (*Brain, error) {
	return NewWithOptions(cfg, sched, cats, Options{})
}

func NewWithOptions(cfg *config.Config, sched *config.ScheduleConfig, cats *config.CategoryConfig, opts Options) (*Brain, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", config.ErrConfig)
	}
	if sched == nil {
		sched = config.DefaultScheduleConfig()
	}

	b := &Brain{
		cfg:        cfg,
		sched:      sched,
		cats:       cats,
		store:      memory.NewFileStore(memory.NewLayout(cfg.Workspace, cfg.ArchiveDir)),
		sessions:   opts.Sessions,
		debounce:   opts.Debounce,
		signalChan: opts.SignalChan,
	}

	if cats != nil {
		rules, err := classify.NewRules(cats)
		if err != nil {
			return nil, err
		}
		b.rules = rules
	}

	if b.sessions == nil {
		src, err := digest.NewDirSource(cfg.SessionsDir, cfg.SessionsGlob, sched.Location())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
		}
		b.sessions = src
	}

	statePath := opts.StatePath
	if statePath == "" {
		statePath = config.StatePath()
	}
	svc, err := cron.NewService(statePath, sched)
	if err != nil {
		return nil, err
	}
	svc.OnRun = b.RunStage
	b.cron = svc

	return b, nil
}

func (b *Brain) Store() *memory.FileStore {
	return b.store
}

// Location is the timezone that decides what "today" means.
func (b *Brain) Location() *time.Location {
	return b.sched.Location()
}

// Today returns the current calendar date in the schedule's timezone.
func (b *Brain) Today(now time.Time) time.Time {
	return memory.CalendarDate(now, b.Location())
}

func (b *Brain) requireRules() error {
	if b.rules == nil {
		return fmt.Errorf("%w: category rules not loaded (%s)", config.ErrConfig, config.CategoriesPath())
	}
	return nil
}

func (b *Brain) Digester() *digest.Digester {
	return digest.New(b.sessions, b.store, digest.Options{
		MaxMessageChars: b.cfg.Digest.MaxMessageChars,
		Location:        b.Location(),
	})
}

func (b *Brain) Consolidator() (*consolidate.Consolidator, error) {
	if err := b.requireRules(); err != nil {
		return nil, err
	}
	return consolidate.New(b.store, b.rules, consolidate.Options{
		AnnotateSignals: b.cfg.Consolidation.AnnotateSignals,
	}), nil
}

// ForgetOptions derives the forgetting curve settings from configuration.
func (b *Brain) ForgetOptions() forget.Options {
	return forget.Options{
		ArchiveDays:        b.sched.ArchiveDays,
		MonthlySummary:     b.sched.MonthlySummary,
		SummaryMaxEntries:  b.cfg.Forgetting.SummaryMaxEntries,
		KeepLatestInMonth:  b.cfg.Forgetting.KeepLatestInMonth,
		IncludeDailyMemory: b.cfg.Forgetting.IncludeDailyMemory,
	}
}

func (b *Brain) Curve(opts forget.Options) (*forget.Curve, error) {
	if err := b.requireRules(); err != nil {
		return nil, err
	}
	return forget.New(b.store, b.rules, opts), nil
}

// WithRun attaches a run-scoped logger to ctx.
func WithRun(ctx context.Context, stage string) context.Context {
	logger := log.With().Str("stage", stage).Str("run", uuid.NewString()).Logger()
	return logger.WithContext(ctx)
}

// Consolidate runs the consolidator over dates, serialised with any other
// consolidation in this process.
func (b *Brain) Consolidate(ctx context.Context, dates ...time.Time) (*consolidate.Report, error) {
	c, err := b.Consolidator()
	if err != nil {
		return nil, err
	}
	b.consolidateMu.Lock()
	defer b.consolidateMu.Unlock()
	return c.Run(ctx, dates...), nil
}

// RunStage runs one stage the way the scheduler does: digest and
// consolidate look at yesterday, forget at today.
func (b *Brain) RunStage(ctx context.Context, stage cron.Stage, now time.Time) error {
	ctx = WithRun(ctx, string(stage))
	today := b.Today(now)
	yesterday := today.AddDate(0, 0, -1)

	switch stage {
	case cron.StageDigest:
		r := b.Digester().Run(ctx, yesterday)
		return errors.Join(r.Errors...)
	case cron.StageConsolidate:
		r, err := b.Consolidate(ctx, yesterday)
		if err != nil {
			return err
		}
		return errors.Join(r.Errors...)
	case cron.StageForget:
		curve, err := b.Curve(b.ForgetOptions())
		if err != nil {
			return err
		}
		r := curve.Run(ctx, today, time.Time{})
		return errors.Join(r.Errors...)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// startWatcher re-consolidates a daily memory file whenever it settles.
func (b *Brain) startWatcher(ctx context.Context) error {
	if err := b.requireRules(); err != nil {
		return err
	}
	w, err := watcher.New(b.store.Layout().MemoryDir(), func(name string) bool {
		_, ok := memory.DateFromName(name)
		return ok
	}, func(path string) {
		date, ok := memory.DateFromName(filepath.Base(path))
		if !ok {
			return
		}
		runCtx := WithRun(ctx, "consolidate")
		r, err := b.Consolidate(runCtx, date)
		if err != nil {
			zerolog.Ctx(runCtx).Error().Err(err).Msg("consolidate on change")
			return
		}
		if r.Failed() {
			zerolog.Ctx(runCtx).Error().Err(errors.Join(r.Errors...)).Msg("consolidate on change")
		}
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if b.debounce > 0 {
		w.SetDebounce(b.debounce)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	b.watcher = w
	return nil
}

// Watch consolidates daily memory on change until ctx ends or a signal
// arrives.
func (b *Brain) Watch(ctx context.Context) error {
	if err := b.startWatcher(ctx); err != nil {
		return err
	}
	b.wait(ctx)
	return b.Shutdown()
}

// Serve runs the scheduler and the watcher until ctx ends or a signal
// arrives.
func (b *Brain) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := b.requireRules(); err != nil {
		return err
	}
	if err := b.cron.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, j := range b.cron.Jobs() {
		log.Info().Str("stage", string(j.Stage)).Str("expr", j.Expr).Time("next", b.cron.Next(j.Stage)).Msg("stage scheduled")
	}
	if err := b.startWatcher(ctx); err != nil {
		log.Warn().Err(err).Msg("watch mode unavailable")
	}

	log.Info().Str("workspace", b.cfg.Workspace).Msg("daemon running")
	b.wait(ctx)
	log.Info().Msg("shutting down...")
	return b.Shutdown()
}

func (b *Brain) wait(ctx context.Context) {
	// Use injected signal channel for testing, or create default
	sigCh := b.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}

func (b *Brain) Shutdown() error {
	if b.watcher != nil {
		if err := b.watcher.Stop(); err != nil {
			log.Warn().Err(err).Msg("stop watcher")
		}
	}
	b.cron.Stop()
	log.Info().Msg("shutdown complete")
	return nil
}
