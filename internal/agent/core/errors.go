package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRunNotFound is returned by job control for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidRequest wraps start_run input validation failures.
	ErrInvalidRequest = errors.New("invalid run request")
)

// StrategyPlanningError is fatal: no plan, no run.
type StrategyPlanningError struct {
	Attempts int
	Reason   string
	Err      error
}

func (e *StrategyPlanningError) Error() string {
	return fmt.Sprintf("strategy planning failed after %d attempt(s): %s", e.Attempts, e.Reason)
}

func (e *StrategyPlanningError) Unwrap() error { return e.Err }

// WorkerTimeoutError records a worker call that hit its ceiling.
type WorkerTimeoutError struct {
	Worker  string
	Round   int
	Timeout time.Duration
}

func (e *WorkerTimeoutError) Error() string {
	return fmt.Sprintf("worker %s timed out in round %d after %s", e.Worker, e.Round, e.Timeout)
}

// WorkerExecutionError records a worker call that returned a failure.
type WorkerExecutionError struct {
	Worker string
	Round  int
	Err    error
}

func (e *WorkerExecutionError) Error() string {
	return fmt.Sprintf("worker %s failed in round %d: %v", e.Worker, e.Round, e.Err)
}

func (e *WorkerExecutionError) Unwrap() error { return e.Err }

// LLMEmptyResponseError means the model returned nothing usable.
type LLMEmptyResponseError struct {
	Component string
}

func (e *LLMEmptyResponseError) Error() string {
	return fmt.Sprintf("%s: empty LLM response", e.Component)
}

func (e *LLMEmptyResponseError) Retryable() bool { return true }

// LLMSchemaViolationError means the response did not match the requested schema.
type LLMSchemaViolationError struct {
	Component  string
	Violations []string
}

func (e *LLMSchemaViolationError) Error() string {
	return fmt.Sprintf("%s: LLM response violates schema: %s", e.Component, strings.Join(e.Violations, "; "))
}

func (e *LLMSchemaViolationError) Retryable() bool { return true }

// AggregationError is reported when the final merge cannot honour its contract.
type AggregationError struct {
	Reason string
}

func (e *AggregationError) Error() string {
	return "aggregation: " + e.Reason
}

// RunFailedError is what GetResult returns for a run that ended in FAILED.
type RunFailedError struct {
	RunID  string
	Reason string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.Reason)
}

type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err may be retried once by WithBoundedRetry.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
