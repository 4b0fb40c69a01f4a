package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conti/internal/log"
)

// SchedulerConfig holds configuration for the background scheduler
type SchedulerConfig struct {
	// Interval is how often every user's recurring definitions are checked (default: 1h)
	Interval time.Duration
	// MigrateCategories also runs the legacy category migration on each tick
	MigrateCategories bool
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:          time.Hour,
		MigrateCategories: true,
	}
}

// Scheduler periodically runs the recurring processor (and optionally the category
// migrator) over all users.
type Scheduler struct {
	recurring *RecurringProcessor
	migrator  *Migrator
	config    SchedulerConfig
	logger    *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(recurring *RecurringProcessor, migrator *Migrator, config SchedulerConfig, logger *log.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Scheduler{
		recurring: recurring,
		migrator:  migrator,
		config:    config,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the loop. Returns an error if already running. The loop also ends
// when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	s.running = true
	s.stopCh, s.doneCh = stopCh, doneCh
	s.mu.Unlock()

	go s.runLoop(ctx, stopCh, doneCh)

	s.logger.InfoContext(ctx, "Scheduler started", "interval", s.config.Interval)
	return nil
}

// Stop signals the loop and waits for the current tick to finish. Safe to call
// concurrently and more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	doneCh := s.doneCh
	s.mu.Unlock()

	if doneCh == nil {
		return nil
	}

	select {
	case <-doneCh:
		s.logger.InfoContext(ctx, "Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.doneCh == doneCh {
			s.running = false
			s.stopCh, s.doneCh = nil, nil
		}
		s.mu.Unlock()
		close(doneCh)
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one pass over all users.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()

	if s.recurring != nil {
		n, err := s.recurring.ProcessAll(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Recurring pass failed", log.FieldError, err)
		} else if n > 0 {
			s.logger.InfoContext(ctx, "Recurring pass complete", log.FieldOccurrences, n)
		}
	}

	if s.config.MigrateCategories && s.migrator != nil {
		n, err := s.migrator.RunAll(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Category migration pass failed", log.FieldError, err)
		} else if n > 0 {
			s.logger.InfoContext(ctx, "Category migration pass complete", "backfilled", n)
		}
	}

	s.logger.DebugContext(ctx, "Scheduler tick finished", log.FieldDuration, time.Since(start).Milliseconds())
}
