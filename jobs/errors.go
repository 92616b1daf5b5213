package jobs

import (
	"errors"
	"fmt"
)

// Kind classifies an error raised by a task or phase so the executor can
// decide whether to retry it.
type Kind string

const (
	KindConfigInvalid       Kind = "config_invalid"
	KindResourceUnavailable Kind = "resource_unavailable"
	KindMalformedPayload    Kind = "malformed_payload"
	KindHandlerFailure      Kind = "handler_failure"
	KindDomainViolation     Kind = "domain_violation"
	KindTimeout             Kind = "timeout"
)

// TaskError wraps an underlying error with the taxonomy kind the executor
// uses to decide retriability (§7).
type TaskError struct {
	Kind Kind
	Err  error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Retriable reports whether the executor should retry an invocation that
// failed with this error, per §4.2 and §7.
func (e *TaskError) Retriable() bool {
	switch e.Kind {
	case KindResourceUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// ConfigInvalid wraps a non-retriable configuration error.
func ConfigInvalid(err error) error { return &TaskError{Kind: KindConfigInvalid, Err: err} }

// ResourceUnavailable wraps a retriable external-dependency error.
func ResourceUnavailable(err error) error { return &TaskError{Kind: KindResourceUnavailable, Err: err} }

// MalformedPayload wraps a non-retriable per-message parse error.
func MalformedPayload(err error) error { return &TaskError{Kind: KindMalformedPayload, Err: err} }

// HandlerFailure wraps a non-retriable, non-propagating handler error.
func HandlerFailure(err error) error { return &TaskError{Kind: KindHandlerFailure, Err: err} }

// DomainViolation wraps a skipped operation caused by a monotone-invariant conflict.
func DomainViolation(err error) error { return &TaskError{Kind: KindDomainViolation, Err: err} }

// Timeout wraps a retriable deadline-exceeded error.
func Timeout(err error) error { return &TaskError{Kind: KindTimeout, Err: err} }

// IsRetriable reports whether err should be retried per the executor's
// policy. Errors not wrapped in a *TaskError are treated as non-retriable.
func IsRetriable(err error) bool {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Retriable()
	}
	return false
}
