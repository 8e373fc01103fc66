package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/stellarlinkco/clawbrain/internal/config"
	"github.com/stellarlinkco/clawbrain/internal/memory"
)

type Stage string

const (
	StageDigest      Stage = "digest"
	StageConsolidate Stage = "consolidate"
	StageForget      Stage = "forget"
)

// Stages in pipeline order.
var Stages = []Stage{StageDigest, StageConsolidate, StageForget}

// ErrBusy is returned by Trigger when the stage is already running.
var ErrBusy = errors.New("stage already running")

type Job struct {
	Stage Stage  `json:"stage"`
	Expr  string `json:"expr"`
}

type State struct {
	LastRunAtMs int64  `json:"lastRunAtMs"`
	LastStatus  string `json:"lastStatus"`
	LastError   string `json:"lastError,omitempty"`
	DurationMs  int64  `json:"durationMs"`
}

// Service runs the pipeline stages on their configured schedule, one
// instance per stage at a time, and records the outcome of each run.
type Service struct {
	storePath string
	loc       *time.Location
	jobs      []Job
	// OnRun executes a stage. now is the trigger time in the schedule's
	// timezone.
	OnRun func(ctx context.Context, stage Stage, now time.Time) error

	mu       sync.Mutex
	state    map[Stage]State
	busy     map[Stage]bool
	cron     *rcron.Cron
	entryMap map[Stage]rcron.EntryID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
}

func NewService(storePath string, sched *config.ScheduleConfig) (*Service, error) {
	if sched == nil {
		sched = config.DefaultScheduleConfig()
	}
	specs := []struct {
		stage Stage
		at    string
		day   int
	}{
		{StageDigest, sched.DigestTime, 0},
		{StageConsolidate, sched.ConsolidateTime, 0},
		{StageForget, sched.ForgetTime, sched.ForgetDay},
	}

	s := &Service{
		storePath: storePath,
		loc:       sched.Location(),
		state:     make(map[Stage]State),
		busy:      make(map[Stage]bool),
		entryMap:  make(map[Stage]rcron.EntryID),
	}
	for _, spec := range specs {
		expr, err := CronSpec(spec.at, spec.day)
		if err != nil {
			return nil, fmt.Errorf("%w: %s schedule: %v", config.ErrConfig, spec.stage, err)
		}
		s.jobs = append(s.jobs, Job{Stage: spec.stage, Expr: expr})
	}
	return s, nil
}

// CronSpec turns a schedule entry into a standard five-field expression.
// "HH:MM" runs daily, or monthly on day when day > 0. Anything else must
// already be a valid five-field expression.
func CronSpec(at string, day int) (string, error) {
	at = strings.TrimSpace(at)
	if h, m, ok := parseClock(at); ok {
		if day > 0 {
			return fmt.Sprintf("%d %d %d * *", m, h, day), nil
		}
		return fmt.Sprintf("%d %d * * *", m, h), nil
	}
	if _, err := rcron.ParseStandard(at); err != nil {
		return "", fmt.Errorf("invalid time %q: %w", at, err)
	}
	return at, nil
}

func parseClock(s string) (int, int, bool) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, 0, false
	}
	return h, m, true
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	if err := s.load(); err != nil {
		log.Warn().Err(err).Str("path", s.storePath).Msg("failed to load scheduler state")
	}

	c := rcron.New(rcron.WithLocation(s.loc))
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = c
	for _, job := range s.jobs {
		stage := job.Stage
		id, err := c.AddFunc(job.Expr, func() {
			s.execute(stage)
		})
		if err != nil {
			s.mu.Unlock()
			cancel()
			return fmt.Errorf("register %s (%s): %w", stage, job.Expr, err)
		}
		s.entryMap[stage] = id
	}
	s.mu.Unlock()

	c.Start()
	log.Info().Int("jobs", len(s.jobs)).Str("timezone", s.loc.String()).Msg("scheduler started")

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Service) execute(stage Stage) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Trigger(ctx, stage); err != nil && errors.Is(err, ErrBusy) {
		log.Warn().Str("stage", string(stage)).Msg("previous run still active, skipping")
	}
}

// Trigger runs stage now, unless it is already running.
func (s *Service) Trigger(ctx context.Context, stage Stage) error {
	s.mu.Lock()
	if s.busy[stage] {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", stage, ErrBusy)
	}
	s.busy[stage] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy[stage] = false
		s.mu.Unlock()
	}()

	if s.OnRun == nil {
		return fmt.Errorf("no handler for stage %s", stage)
	}

	logger := log.With().Str("stage", string(stage)).Logger()
	started := time.Now()
	logger.Info().Msg("stage starting")
	err := s.OnRun(logger.WithContext(ctx), stage, started.In(s.loc))

	st := State{LastRunAtMs: started.UnixMilli(), DurationMs: time.Since(started).Milliseconds()}
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
		logger.Error().Err(err).Msg("stage failed")
	} else {
		st.LastStatus = "ok"
		logger.Info().Dur("took", time.Since(started)).Msg("stage finished")
	}

	s.mu.Lock()
	s.state[stage] = st
	saveErr := s.save()
	s.mu.Unlock()
	if saveErr != nil {
		logger.Warn().Err(saveErr).Msg("failed to save scheduler state")
	}
	return err
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if stopCh != nil {
		close(stopCh)
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			log.Warn().Msg("stop timeout waiting for running stages")
		}
	}
	log.Info().Msg("scheduler stopped")
}

func (s *Service) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Next returns the next scheduled run of stage, or zero when the scheduler
// is not running.
func (s *Service) Next(stage Stage) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entryMap[stage]
	if !ok || s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Service) State() map[Stage]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Stage]State, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// LoadState reads the persisted run state. A missing file is empty.
func LoadState(path string) (map[Stage]State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[Stage]State{}, nil
		}
		return nil, err
	}
	state := make(map[Stage]State)
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse scheduler state: %w", err)
	}
	return state, nil
}

func (s *Service) load() error {
	state, err := LoadState(s.storePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for k, v := range state {
		s.state[k] = v
	}
	s.mu.Unlock()
	return nil
}

func (s *Service) save() error {
	if s.storePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return memory.WriteFileAtomic(s.storePath, append(data, '\n'))
}
