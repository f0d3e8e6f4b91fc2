package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrReasoningTimeout matches a reasoning call that exceeded its budget.
	ErrReasoningTimeout = errors.New("reasoning timed out")
	// ErrReasoningUnavailable matches any other reasoning failure.
	ErrReasoningUnavailable = errors.New("reasoning unavailable")
)

// ReasoningError wraps a provider failure with its classification.
type ReasoningError struct {
	Model   string
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *ReasoningError) Error() string {
	kind := "failed"
	if e.Timeout {
		kind = "timed out"
	}
	return fmt.Sprintf("model %s %s: %v", e.Model, kind, e.Err)
}

// Unwrap returns the provider error.
func (e *ReasoningError) Unwrap() error { return e.Err }

// Is matches the sentinel for this error's classification.
func (e *ReasoningError) Is(target error) bool {
	if e.Timeout {
		return target == ErrReasoningTimeout
	}
	return target == ErrReasoningUnavailable
}

// classify wraps err as a *ReasoningError. A deadline on ctx or in the
// error chain counts as a timeout.
func classify(ctx context.Context, model string, err error) error {
	if err == nil {
		return nil
	}
	var re *ReasoningError
	if errors.As(err, &re) {
		return re
	}
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &ReasoningError{Model: model, Timeout: timeout, Err: err}
}
