// Package scheduler triggers sweeps on a cron schedule. At most one sweep
// runs at a time; triggers that arrive while one is running are dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/telemetry"
)

var (
	// ErrSweepInProgress is returned when a sweep is already running.
	ErrSweepInProgress = errors.New("sweep already in progress")
	// ErrStopped is returned for triggers that arrive after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// Sweeper runs one sweep.
type Sweeper interface {
	CrawlAll(ctx context.Context) (crawler.SweepResult, error)
}

// Config configures the scheduler.
type Config struct {
	Enabled  bool
	Schedule string
	Location *time.Location
}

// Status is the read-only view of the scheduler.
type Status struct {
	Enabled    bool                 `json:"enabled"`
	Schedule   string               `json:"schedule"`
	Timezone   string               `json:"timezone"`
	IsRunning  bool                 `json:"isRunning"`
	LastRun    *time.Time           `json:"lastRun"`
	LastResult *crawler.SweepResult `json:"lastResult"`
	LastError  *string              `json:"lastError"`
}

// Scheduler owns the cron runner and the single-flight state.
type Scheduler struct {
	cfg     Config
	sweeper Sweeper
	clock   crawler.Clock
	logger  *zap.Logger
	cron    *cron.Cron

	// base is the context handed to scheduled and triggered sweeps.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	running    bool
	stopped    bool
	lastRun    *time.Time
	lastResult *crawler.SweepResult
	lastError  *string
}

// New validates the schedule and builds a Scheduler. Nothing runs until Start.
func New(cfg Config, parser cron.Parser, sweeper Sweeper, clock crawler.Clock, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{logger})),
	)
	s := &Scheduler{cfg: cfg, sweeper: sweeper, clock: clock, logger: logger, cron: c}
	s.base, s.cancel = context.WithCancel(context.Background())
	if _, err := c.AddFunc(cfg.Schedule, s.scheduled); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins firing on the schedule when enabled.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		s.logger.Info("scheduled sweeps disabled")
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.String("timezone", s.cfg.Location.String()),
	)
}

// Stop halts the schedule, cancels in-flight sweeps and waits for them, or
// for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	stopped := s.cron.Stop()
	s.cancel()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) scheduled() {
	if _, err := s.RunNow(s.base); errors.Is(err, ErrSweepInProgress) {
		s.logger.Warn("skipping scheduled sweep, previous sweep still running")
	}
}

// RunNow runs a sweep synchronously. It returns ErrSweepInProgress without
// touching any state when a sweep is already running, and ErrStopped after
// Stop.
func (s *Scheduler) RunNow(ctx context.Context) (crawler.SweepResult, error) {
	if err := s.acquire(); err != nil {
		return crawler.SweepResult{}, err
	}
	defer s.wg.Done()
	return s.run(ctx)
}

// Trigger starts a sweep in the background and returns immediately.
func (s *Scheduler) Trigger() error {
	if err := s.acquire(); err != nil {
		return err
	}
	go func() {
		defer s.wg.Done()
		_, _ = s.run(s.base)
	}()
	return nil
}

// acquire claims the single-flight slot and registers the sweep with the
// wait group. Both happen under mu so Stop never waits while a sweep is
// still being added.
func (s *Scheduler) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.running {
		telemetry.ObserveSweep("skipped", 0)
		return ErrSweepInProgress
	}
	s.running = true
	s.wg.Add(1)
	return nil
}

func (s *Scheduler) run(ctx context.Context) (result crawler.SweepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
		s.finish(result, err)
	}()
	s.logger.Info("sweep starting")
	return s.sweeper.CrawlAll(ctx)
}

// finish records the outcome. lastRun and lastResult only move on success.
func (s *Scheduler) finish(result crawler.SweepResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		msg := err.Error()
		s.lastError = &msg
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}
	now := s.clock.Now()
	s.lastRun = &now
	s.lastResult = &result
	s.lastError = nil
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Enabled:   s.cfg.Enabled,
		Schedule:  s.cfg.Schedule,
		Timezone:  s.cfg.Location.String(),
		IsRunning: s.running,
	}
	if s.lastRun != nil {
		t := *s.lastRun
		st.LastRun = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		st.LastResult = &r
	}
	if s.lastError != nil {
		e := *s.lastError
		st.LastError = &e
	}
	return st
}

// Next reports the next scheduled fire time, zero when not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug(msg, zap.Any("details", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, zap.Error(err), zap.Any("details", kv))
}
