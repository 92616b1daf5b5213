package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records task-execution activity for the job engine: attempts,
// outcomes, retries, and how long each task type takes to run.
type JobMetrics struct {
	executions *prometheus.CounterVec
	retries    *prometheus.CounterVec
	drops      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   *prometheus.GaugeVec
}

// DispatcherMetrics records chainhook handler activity: how many events each
// handler processes, how long it takes, and how often it fails.
type DispatcherMetrics struct {
	handled  *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// ChainStateMetrics tracks the reconciliation loop's view of each network's
// sync position so operators can alert on drift.
type ChainStateMetrics struct {
	storedHeight *prometheus.GaugeVec
	tipHeight    *prometheus.GaugeVec
	blocksCaught *prometheus.CounterVec
}

var (
	jobMetricsOnce sync.Once
	jobRegistry    *JobMetrics

	dispatcherMetricsOnce sync.Once
	dispatcherRegistry    *DispatcherMetrics

	chainStateMetricsOnce sync.Once
	chainStateRegistry    *ChainStateMetrics
)

// Jobs returns the lazily-initialised job executor metrics registry.
func Jobs() *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobRegistry = &JobMetrics{
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daobackend",
				Subsystem: "jobs",
				Name:      "executions_total",
				Help:      "Total task executions segmented by task name and outcome.",
			}, []string{"task", "outcome"}),
			retries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daobackend",
				Subsystem: "jobs",
				Name:      "retries_total",
				Help:      "Total retry attempts segmented by task name.",
			}, []string{"task"}),
			drops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daobackend",
				Subsystem: "jobs",
				Name:      "dropped_total",
				Help:      "Total scheduling drops segmented by task name and reason (busy, disabled).",
			}, []string{"task", "reason"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "daobackend",
				Subsystem: "jobs",
				Name:      "execution_duration_seconds",
				Help:      "Latency distribution of task executions by task name.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"task"}),
			inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "daobackend",
				Subsystem: "jobs",
				Name:      "in_flight",
				Help:      "Number of task executions currently running by task name.",
			}, []string{"task"}),
		}
		prometheus.MustRegister(
			jobRegistry.executions,
			jobRegistry.retries,
			jobRegistry.drops,
			jobRegistry.duration,
			jobRegistry.inFlight,
		)
	})
	return jobRegistry
}

// ObserveExecution records a single completed task invocation (all of its
// retry attempts together), including its terminal outcome ("success",
// "failure", "timeout") and wall-clock duration.
func (m *JobMetrics) ObserveExecution(task, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(task, outcome).Inc()
	m.duration.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveRetry records that a task is being retried after a failed attempt.
func (m *JobMetrics) ObserveRetry(task string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(task).Inc()
}

// ObserveDrop records that a scheduled tick was dropped instead of queued.
func (m *JobMetrics) ObserveDrop(task, reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(task, reason).Inc()
}

// SetInFlight updates the number of currently-running executions for a task.
func (m *JobMetrics) SetInFlight(task string, count int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(task).Set(float64(count))
}

// Dispatcher returns the lazily-initialised chainhook dispatcher metrics registry.
func Dispatcher() *DispatcherMetrics {
	dispatcherMetricsOnce.Do(func() {
		dispatcherRegistry = &DispatcherMetrics{
			handled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daobackend",
				Subsystem: "dispatcher",
				Name:      "events_handled_total",
				Help:      "Total chainhook events routed to a handler, segmented by handler and outcome.",
			}, []string{"handler", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daobackend",
				Subsystem: "dispatcher",
				Name:      "handler_failures_total",
				Help:      "Total handler failures segmented by handler name.",
			}, []string{"handler"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "daobackend",
				Subsystem: "dispatcher",
				Name:      "handler_duration_seconds",
				Help:      "Latency distribution of individual chainhook handler invocations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"handler"}),
		}
		prometheus.MustRegister(
			dispatcherRegistry.handled,
			dispatcherRegistry.failures,
			dispatcherRegistry.latency,
		)
	})
	return dispatcherRegistry
}

// ObserveHandler records one handler invocation's outcome and duration. A
// handler failure does not halt dispatch of subsequent events; it is only
// recorded here.
func (m *DispatcherMetrics) ObserveHandler(handler, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(handler, outcome).Inc()
	m.latency.WithLabelValues(handler).Observe(duration.Seconds())
	if outcome == "failure" {
		m.failures.WithLabelValues(handler).Inc()
	}
}

// ChainState returns the lazily-initialised chain-state monitor metrics registry.
func ChainState() *ChainStateMetrics {
	chainStateMetricsOnce.Do(func() {
		chainStateRegistry = &ChainStateMetrics{
			storedHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "daobackend",
				Subsystem: "chain_state",
				Name:      "stored_height",
				Help:      "Last block height recorded in the store for a network.",
			}, []string{"network"}),
			tipHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "daobackend",
				Subsystem: "chain_state",
				Name:      "tip_height",
				Help:      "Chain tip height observed on the most recent reconciliation tick.",
			}, []string{"network"}),
			blocksCaught: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daobackend",
				Subsystem: "chain_state",
				Name:      "blocks_caught_up_total",
				Help:      "Total blocks synthesized and replayed through the dispatcher during catch-up.",
			}, []string{"network"}),
		}
		prometheus.MustRegister(
			chainStateRegistry.storedHeight,
			chainStateRegistry.tipHeight,
			chainStateRegistry.blocksCaught,
		)
	})
	return chainStateRegistry
}

// SetHeights records the stored and tip heights observed on a reconciliation tick.
func (m *ChainStateMetrics) SetHeights(network string, stored, tip uint64) {
	if m == nil {
		return
	}
	m.storedHeight.WithLabelValues(network).Set(float64(stored))
	m.tipHeight.WithLabelValues(network).Set(float64(tip))
}

// AddBlocksCaughtUp increments the count of blocks replayed during catch-up.
func (m *ChainStateMetrics) AddBlocksCaughtUp(network string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.blocksCaught.WithLabelValues(network).Add(float64(n))
}
