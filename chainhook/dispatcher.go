package chainhook

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"daobackend/observability"
	telemetry "daobackend/observability/otel"
)

// Dispatcher holds the read-only, startup-populated handler chain and
// delivers parsed payloads to it per §4.5's ordering protocol.
type Dispatcher struct {
	handlers []Handler
	metrics  *observability.DispatcherMetrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// DispatcherOption customises a Dispatcher instance.
type DispatcherOption func(*Dispatcher)

// WithDispatcherMetrics overrides the default metrics registry.
func WithDispatcherMetrics(m *observability.DispatcherMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDispatcherTracer overrides the default tracer.
func WithDispatcherTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithDispatcherLogger overrides the default logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher constructs a Dispatcher invoking handlers in registration
// order. The handler list is read-only for the process lifetime (§5).
func NewDispatcher(handlers []Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: handlers,
		metrics:  observability.Dispatcher(),
		tracer:   telemetry.Tracer("chainhook-dispatcher"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch delivers every transaction in payload.Apply, in block then
// tx_index order, to every handler that claims it, then delivers
// payload.Rollback entries the same way to RollbackHandler implementations.
// A handler's failure is caught, logged, and metered; it never aborts the
// block or prevents subsequent handlers from running (§4.5).
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) {
	for _, block := range payload.Apply {
		for _, tx := range block.Transactions {
			d.deliver(ctx, tx, block, false)
		}
	}
	for _, block := range payload.Rollback {
		for _, tx := range block.Transactions {
			d.deliver(ctx, tx, block, true)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, tx Transaction, block Block, rollback bool) {
	for _, handler := range d.handlers {
		if !handler.CanHandle(tx) {
			continue
		}
		d.invoke(ctx, handler, tx, block, rollback)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, tx Transaction, block Block, rollback bool) {
	ctx, span := d.tracer.Start(ctx, "chainhook.handle", trace.WithAttributes(
		attribute.String("handler", handler.Name()),
		attribute.String("tx.id", tx.TxID),
		attribute.Bool("rollback", rollback),
	))
	defer span.End()

	start := time.Now()
	var err error
	if rollback {
		if rh, ok := handler.(RollbackHandler); ok {
			err = rh.HandleRollback(ctx, tx, block)
		}
	} else {
		err = handler.Handle(ctx, tx, block)
	}
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("chainhook handler failed", "handler", handler.Name(), "tx", tx.TxID, "rollback", rollback, "error", err)
	}
	d.metrics.ObserveHandler(handler.Name(), outcome, duration)
}
