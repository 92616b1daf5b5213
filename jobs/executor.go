package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"daobackend/observability"
	telemetry "daobackend/observability/otel"
	"daobackend/store"
)

// ErrBusy is returned when a task type is already running at its
// max_concurrent cap; the scheduler drops rather than queues this invocation.
var ErrBusy = errors.New("jobs: task busy, invocation dropped")

// Executor runs a single task invocation end to end: config validation,
// resource validation, the task's own precondition, a timeout-bounded
// execute phase, and unconditional cleanup, driving retry/backoff across
// attempts per §4.2.
type Executor struct {
	registry *Registry
	store    store.Gateway
	checker  ResourceChecker
	metrics  *observability.JobMetrics
	tracer   trace.Tracer
	logger   *slog.Logger

	counters sync.Map // task type -> *int32
	wg       sync.WaitGroup
}

// Option customises an Executor instance.
type Option func(*Executor)

// WithStore supplies the store gateway used to record dead letters.
func WithStore(s store.Gateway) Option {
	return func(e *Executor) { e.store = s }
}

// WithResourceChecker overrides the default always-available resource checker.
func WithResourceChecker(checker ResourceChecker) Option {
	return func(e *Executor) { e.checker = checker }
}

// WithJobMetrics overrides the default metrics registry.
func WithJobMetrics(m *observability.JobMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer overrides the default tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor constructs an Executor bound to registry.
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	exec := &Executor{
		registry: registry,
		checker:  AlwaysAvailable,
		metrics:  observability.Jobs(),
		tracer:   telemetry.Tracer("job-executor"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(exec)
		}
	}
	return exec
}

// Execute runs one invocation of taskType synchronously, including its full
// retry budget. It returns ErrBusy without consulting the task at all when
// the type is already at its concurrency cap (I7). Intended for direct
// callers (tests, the chain-state monitor invoked on demand); the scheduler
// uses Dispatch instead so a slow task doesn't block the scheduling loop.
func (e *Executor) Execute(ctx context.Context, taskType string) ([]JobResult, error) {
	def, release, ok, err := e.tryAcquire(taskType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	defer release()
	return e.runTraced(ctx, taskType, def)
}

// Dispatch attempts to reserve a concurrency slot for taskType and, if
// successful, runs it on a background goroutine tracked by the executor's
// shutdown WaitGroup. It reports started=false immediately (without running
// anything) when the type is already at its cap, so the scheduler's Idle
// state is preserved for the next tick.
func (e *Executor) Dispatch(ctx context.Context, taskType string) (started bool, err error) {
	def, release, ok, err := e.tryAcquire(taskType)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer release()
		if _, runErr := e.runTraced(ctx, taskType, def); runErr != nil {
			e.logger.Error("task invocation failed", "task", taskType, "error", runErr)
		}
	}()
	return true, nil
}

// Wait blocks until every in-flight Dispatch-ed invocation completes or ctx
// is done, whichever comes first, implementing the bounded shutdown_grace
// drain described in §4.3 and §5.
func (e *Executor) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (e *Executor) tryAcquire(taskType string) (Definition, func(), bool, error) {
	def, ok := e.registry.Get(taskType)
	if !ok {
		return Definition{}, nil, false, fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}

	counter := e.counterFor(taskType)
	maxConcurrent := def.Metadata.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if !acquire(counter, int32(maxConcurrent)) {
		e.metrics.ObserveDrop(taskType, "busy")
		return Definition{}, nil, false, nil
	}
	e.metrics.SetInFlight(taskType, int(atomic.LoadInt32(counter)))
	release := func() {
		atomic.AddInt32(counter, -1)
		e.metrics.SetInFlight(taskType, int(atomic.LoadInt32(counter)))
	}
	return def, release, true, nil
}

func (e *Executor) runTraced(ctx context.Context, taskType string, def Definition) ([]JobResult, error) {
	ctx, span := e.tracer.Start(ctx, "jobs.execute", trace.WithAttributes(
		attribute.String("task.type", taskType),
	))
	defer span.End()

	start := time.Now()
	results, err := e.runWithRetry(ctx, taskType, def)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.ObserveExecution(taskType, outcome, time.Since(start))
	return results, err
}

func (e *Executor) runWithRetry(ctx context.Context, taskType string, def Definition) ([]JobResult, error) {
	if def.ValidateConfig != nil {
		if err := def.ValidateConfig(ctx); err != nil {
			e.logger.Error("task config invalid", "task", taskType, "error", err)
			return nil, ConfigInvalid(err)
		}
	}

	maxRetries := def.Metadata.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := def.Metadata.RetryDelay

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		attempts = attempt
		if attempt > 1 {
			e.metrics.ObserveRetry(taskType)
		}
		results, err := e.runAttempt(ctx, taskType, def)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !IsRetriable(err) || attempt == maxRetries+1 {
			break
		}
		backoff := retryDelay * time.Duration(1<<uint(attempt-1))
		e.logger.Warn("task attempt failed, retrying", "task", taskType, "attempt", attempt, "backoff", backoff, "error", err)
		if !sleep(ctx, backoff) {
			break
		}
	}

	if lastErr != nil && def.Metadata.DeadLetterEnabled && e.store != nil {
		if dlErr := e.store.RecordDeadLetter(context.Background(), taskType, attempts, lastErr); dlErr != nil {
			e.logger.Error("failed to record dead letter", "task", taskType, "error", dlErr)
		}
	}
	return nil, lastErr
}

func (e *Executor) runAttempt(ctx context.Context, taskType string, def Definition) ([]JobResult, error) {
	if def.ValidateResources != nil {
		if err := def.ValidateResources(ctx, e.checker); err != nil {
			return nil, ResourceUnavailable(err)
		}
	}

	if def.HasWork != nil {
		hasWork, err := def.HasWork(ctx)
		if err != nil {
			return nil, HandlerFailure(err)
		}
		if !hasWork {
			return nil, nil
		}
	}

	execCtx := ctx
	cancel := func() {}
	if def.Metadata.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, def.Metadata.Timeout)
	}
	defer cancel()

	results, err := def.Execute(execCtx)
	if def.Cleanup != nil {
		def.Cleanup(ctx)
	}
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, Timeout(err)
		}
		var taskErr *TaskError
		if errors.As(err, &taskErr) {
			return nil, err
		}
		return nil, HandlerFailure(err)
	}
	return results, nil
}

func (e *Executor) counterFor(taskType string) *int32 {
	value, _ := e.counters.LoadOrStore(taskType, new(int32))
	return value.(*int32)
}

// acquire attempts to reserve one concurrency slot, returning false if the
// type is already at its cap.
func acquire(counter *int32, max int32) bool {
	for {
		current := atomic.LoadInt32(counter)
		if current >= max {
			return false
		}
		if atomic.CompareAndSwapInt32(counter, current, current+1) {
			return true
		}
	}
}

// sleep waits for d or until ctx is cancelled, returning false in the latter case.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
