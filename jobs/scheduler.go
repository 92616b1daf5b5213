package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultShutdownGrace matches §5's "up to shutdown_grace (default 30s)".
const defaultShutdownGrace = 30 * time.Second

// Scheduler is the single cooperative loop that fires task executions at
// their metadata intervals, in priority-descending order, at most one
// dispatch per type per tick.
type Scheduler struct {
	registry      *Registry
	executor      *Executor
	tickInterval  time.Duration
	shutdownGrace time.Duration
	disabled      func() map[string]bool
	logger        *slog.Logger

	mu          sync.Mutex
	lastStarted map[string]time.Time
}

// SchedulerOption customises a Scheduler instance.
type SchedulerOption func(*Scheduler)

// WithTickInterval overrides the default 1-second tick resolution.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithShutdownGrace overrides the default 30-second drain window.
func WithShutdownGrace(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.shutdownGrace = d }
}

// WithDisabledFunc supplies a function returning the set of task types
// disabled by configuration; re-evaluated every tick so a config reload
// takes effect without interrupting in-flight executions (§4.3).
func WithDisabledFunc(f func() map[string]bool) SchedulerOption {
	return func(s *Scheduler) { s.disabled = f }
}

// WithSchedulerLogger overrides the default logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler constructs a Scheduler driving executor according to registry.
func NewScheduler(registry *Registry, executor *Executor, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:      registry,
		executor:      executor,
		tickInterval:  time.Second,
		shutdownGrace: defaultShutdownGrace,
		disabled:      func() map[string]bool { return nil },
		logger:        slog.Default(),
		lastStarted:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run blocks, ticking the scheduler loop until ctx is cancelled. On
// cancellation it stops dispatching new work and waits up to
// shutdown_grace for in-flight executions to finish before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
			s.executor.Wait(drainCtx)
			cancel()
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick dispatches at most one invocation per enabled, due task type, in
// priority-descending then registration order.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	disabled := s.disabled()
	for _, taskType := range s.registry.AllEnabled(disabled) {
		def, ok := s.registry.Get(taskType)
		if !ok {
			continue
		}
		if def.Metadata.Interval <= 0 {
			continue // time-triggered scheduling disabled for this type
		}
		if !s.due(taskType, def.Metadata.Interval, now) {
			continue
		}
		started, err := s.executor.Dispatch(ctx, taskType)
		if err != nil {
			s.logger.Error("dispatch failed", "task", taskType, "error", err)
			continue
		}
		if started {
			s.markStarted(taskType, now)
		}
	}
}

func (s *Scheduler) due(taskType string, interval time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastStarted[taskType]
	if !ok {
		return true
	}
	return now.Sub(last) >= interval
}

func (s *Scheduler) markStarted(taskType string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStarted[taskType] = now
}
