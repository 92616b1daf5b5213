package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSchedulerDropsOverflow matches S6: a task with max_concurrent=1 whose
// body outlives its interval is dispatched far fewer times than it is
// scheduled to tick, with the rest dropped rather than queued.
func TestSchedulerDropsOverflow(t *testing.T) {
	registry := NewRegistry()
	var dispatches int32
	const interval = 30 * time.Millisecond
	const bodyDuration = 90 * time.Millisecond

	require.NoError(t, registry.Register(Definition{
		Metadata: Metadata{TaskType: "slow-periodic", Interval: interval, MaxConcurrent: 1},
		Execute: func(ctx context.Context) ([]JobResult, error) {
			atomic.AddInt32(&dispatches, 1)
			time.Sleep(bodyDuration)
			return []JobResult{{Success: true}}, nil
		},
	}))

	exec := NewExecutor(registry)
	sched := NewScheduler(registry, exec, WithTickInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 310*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	got := atomic.LoadInt32(&dispatches)
	require.LessOrEqual(t, got, int32(5), "overflow ticks must be dropped, not queued")
	require.GreaterOrEqual(t, got, int32(2))
}

// TestSchedulerPriorityOrderDispatchesAll ensures every enabled, due task
// type gets a dispatch attempt within one tick regardless of priority.
func TestSchedulerPriorityOrderDispatchesAll(t *testing.T) {
	registry := NewRegistry()
	var lowRan, highRan int32
	require.NoError(t, registry.Register(Definition{
		Metadata: Metadata{TaskType: "low", Interval: 5 * time.Millisecond, Priority: PriorityLow, MaxConcurrent: 1},
		Execute: func(ctx context.Context) ([]JobResult, error) {
			atomic.StoreInt32(&lowRan, 1)
			return nil, nil
		},
	}))
	require.NoError(t, registry.Register(Definition{
		Metadata: Metadata{TaskType: "high", Interval: 5 * time.Millisecond, Priority: PriorityHigh, MaxConcurrent: 1},
		Execute: func(ctx context.Context) ([]JobResult, error) {
			atomic.StoreInt32(&highRan, 1)
			return nil, nil
		},
	}))

	exec := NewExecutor(registry)
	sched := NewScheduler(registry, exec, WithTickInterval(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	require.Equal(t, int32(1), atomic.LoadInt32(&lowRan))
	require.Equal(t, int32(1), atomic.LoadInt32(&highRan))
}

// TestSchedulerSkipsDisabledTasks confirms a config-disabled type never dispatches.
func TestSchedulerSkipsDisabledTasks(t *testing.T) {
	registry := NewRegistry()
	var ran int32
	require.NoError(t, registry.Register(Definition{
		Metadata: Metadata{TaskType: "disabled-task", Interval: 5 * time.Millisecond, MaxConcurrent: 1},
		Execute: func(ctx context.Context) ([]JobResult, error) {
			atomic.StoreInt32(&ran, 1)
			return nil, nil
		},
	}))

	exec := NewExecutor(registry)
	sched := NewScheduler(registry, exec,
		WithTickInterval(5*time.Millisecond),
		WithDisabledFunc(func() map[string]bool { return map[string]bool{"disabled-task": true} }),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	require.Equal(t, int32(0), atomic.LoadInt32(&ran))
}
