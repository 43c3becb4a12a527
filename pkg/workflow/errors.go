// Package workflow implements the orchestration core: workflow resolution,
// session coordination, reviewer feedback routing and validation gating.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/stagehand/pkg/models"
)

// Terminal error conditions surfaced to callers. Retryable failures are
// recovered locally by the coordinator up to budget and never escape it.
var (
	// ErrInvalidWorkflow indicates a workflow type or step that cannot be
	// resolved. Fatal immediately, never retried.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrRetryBudgetExhausted indicates a stage failed more times than its
	// retry budget allows.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrReviewLoopExhausted indicates reviewer rejections looped a stage
	// more times than the review loop limit allows.
	ErrReviewLoopExhausted = errors.New("review loop exhausted")

	// ErrSessionCancelled indicates the session was cancelled by its caller.
	ErrSessionCancelled = errors.New("session cancelled")

	// ErrSessionNotRunning indicates an operation that needs a live session
	// was attempted on a finished one.
	ErrSessionNotRunning = errors.New("session is not running")
)

// TimeoutError indicates a stage capability did not return before its
// deadline. Retryable.
type TimeoutError struct {
	Stage   models.StageName
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s attempt %d timed out after %s", e.Stage, e.Attempt, e.Timeout)
}

// ProducerError indicates a stage's producer capability failed. Retryable;
// the error detail is forwarded to the next attempt's input context.
type ProducerError struct {
	Stage   models.StageName
	Attempt int
	Err     error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("stage %s attempt %d failed: %v", e.Stage, e.Attempt, e.Err)
}

func (e *ProducerError) Unwrap() error {
	return e.Err
}

// ValidationFailure indicates the external test run did not validate the
// artifact. Retryable; carries the structured failing-test detail.
type ValidationFailure struct {
	Stage          models.StageName
	Classification models.Classification
	Result         models.TestRunResult
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("stage %s validation failed (%s): %d/%d tests failed",
		e.Stage, e.Classification, e.Result.Failed, e.Result.Total)
}

// Detail returns the failure content forwarded to the retry's input context.
func (e *ValidationFailure) Detail() string {
	return e.Result.FailureDetail()
}

// IsInvalidWorkflow checks if an error indicates an unresolvable workflow.
func IsInvalidWorkflow(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow)
}

// IsTimeout checks if an error is a stage timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError

	return errors.As(err, &te)
}
