// Package cron runs the archive reconciliation scan on a cron schedule.
package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/archivist/internal/archive"
	"github.com/basket/archivist/internal/shared"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

var ErrNoSchedule = errors.New("cron: empty schedule")

// Scanner is the reconciliation the scheduler drives.
type Scanner interface {
	Scan(ctx context.Context, update bool) (*archive.ScanReport, error)
}

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Scanner  Scanner
	Schedule string
	// Sync persists scan results instead of only reporting drift.
	Sync     bool
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
	Now      func() time.Time
}

// Scheduler checks the schedule on every tick and runs the scan when it is due.
type Scheduler struct {
	scanner  Scanner
	expr     string
	schedule cronlib.Schedule
	sync     bool
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	nextRun time.Time
	runs    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates the schedule and creates a Scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Schedule == "" {
		return nil, ErrNoSchedule
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		scanner:  cfg.Scanner,
		expr:     cfg.Schedule,
		schedule: sched,
		sync:     cfg.Sync,
		logger:   logger,
		interval: interval,
		now:      now,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.nextRun = s.schedule.Next(s.now())
	next := s.nextRun
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "schedule", s.expr, "sync", s.sync, "next_run_at", next)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

// NextRun is the time of the next scheduled scan.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Runs counts the scans started so far.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs the scan if it is due and advances the next run time.
// A scan that overruns several slots runs once.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	if now.Before(s.nextRun) {
		s.mu.Unlock()
		return
	}
	s.nextRun = s.schedule.Next(now)
	s.runs++
	next := s.nextRun
	s.mu.Unlock()

	s.fire(shared.RequestContext(ctx, "cron", ""), next)
}

func (s *Scheduler) fire(ctx context.Context, next time.Time) {
	report, err := s.scanner.Scan(ctx, s.sync)
	if err != nil {
		s.logger.Error("cron: scheduled scan failed",
			"schedule", s.expr,
			"error", err,
			"trace_id", shared.TraceID(ctx),
		)
		return
	}
	s.logger.Info("cron: scheduled scan finished",
		"in_sync", report.InSync(),
		"new_on_server", len(report.NewOnServer),
		"missing_from_server", len(report.MissingFromServer),
		"synced", report.Synced,
		"next_run_at", next,
		"trace_id", shared.TraceID(ctx),
	)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
