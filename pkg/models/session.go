package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// StageStatus represents the terminal state of one stage attempt.
type StageStatus string

const (
	StageStatusPending       StageStatus = "pending"
	StageStatusRunning       StageStatus = "running"
	StageStatusSucceeded     StageStatus = "succeeded"
	StageStatusNeedsRevision StageStatus = "needs_revision"
	StageStatusFailed        StageStatus = "failed"
	StageStatusTimedOut      StageStatus = "timed_out"
)

// Failure reasons attached to a terminal FAILED session. Status queries
// always expose the most specific reason available.
const (
	ReasonRetryBudgetExhausted = "retry_budget_exhausted"
	ReasonReviewLoopExhausted  = "review_loop_exhausted"
	ReasonInvalidWorkflow      = "invalid_workflow"
	ReasonCancelled            = "cancelled"
)

// StageRecord is the immutable record of a single stage attempt. A stage
// retried three times produces three records.
type StageRecord struct {
	StageName  StageName   `json:"stage_name"`
	Attempt    int         `json:"attempt"`
	Status     StageStatus `json:"status"`
	Input      string      `json:"input,omitempty"`
	Output     string      `json:"output,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Error      string      `json:"error,omitempty"`
}

// FeedbackEvent carries a reviewer rejection back to an earlier stage. It is
// consumed as additional input context on the next attempt of ToStage.
type FeedbackEvent struct {
	FromStage StageName `json:"from_stage"`
	ToStage   StageName `json:"to_stage"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one complete run of a WorkflowDefinition. It is owned by a
// single coordinator while running and becomes immutable once the status
// leaves running.
type Session struct {
	ID           string             `json:"id"`
	WorkflowType WorkflowType       `json:"workflow_type"`
	Requirements string             `json:"requirements"`
	Definition   WorkflowDefinition `json:"definition"`
	Status       SessionStatus      `json:"status"`
	Reason       string             `json:"reason,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
	CurrentStage StageName          `json:"current_stage,omitempty"`
	Records      []StageRecord      `json:"records"`
	Feedback     []FeedbackEvent    `json:"feedback,omitempty"`
	TestResult   *TestRunResult     `json:"test_result,omitempty"`
}

// NewSession creates a running session for the given definition.
func NewSession(requirements string, def WorkflowDefinition) *Session {
	return &Session{
		ID:           generateSessionID(),
		WorkflowType: def.Type,
		Requirements: requirements,
		Definition:   def,
		Status:       SessionStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
}

// RecordsFor returns all attempt records for a stage in execution order.
func (s *Session) RecordsFor(stage StageName) []StageRecord {
	var records []StageRecord

	for _, r := range s.Records {
		if r.StageName == stage {
			records = append(records, r)
		}
	}

	return records
}

// LastRecordFor returns the most recent record for a stage.
func (s *Session) LastRecordFor(stage StageName) (StageRecord, bool) {
	for i := len(s.Records) - 1; i >= 0; i-- {
		if s.Records[i].StageName == stage {
			return s.Records[i], true
		}
	}

	return StageRecord{}, false
}

// AttemptsFor returns the number of attempts recorded for a stage.
func (s *Session) AttemptsFor(stage StageName) int {
	return len(s.RecordsFor(stage))
}

// FeedbackFor returns all feedback events targeting a stage.
func (s *Session) FeedbackFor(stage StageName) []FeedbackEvent {
	var fb []FeedbackEvent

	for _, f := range s.Feedback {
		if f.ToStage == stage {
			fb = append(fb, f)
		}
	}

	return fb
}

// Elapsed returns the session's total elapsed time.
func (s *Session) Elapsed() time.Duration {
	if s.FinishedAt != nil {
		return s.FinishedAt.Sub(s.StartedAt)
	}

	return time.Since(s.StartedAt)
}

// Clone returns a deep copy of the session. Status queries hand out clones so
// callers never observe a half-written record.
func (s *Session) Clone() *Session {
	clone := *s

	clone.Records = make([]StageRecord, len(s.Records))
	copy(clone.Records, s.Records)

	clone.Feedback = make([]FeedbackEvent, len(s.Feedback))
	copy(clone.Feedback, s.Feedback)

	clone.Definition.Stages = make([]StageSpec, len(s.Definition.Stages))
	copy(clone.Definition.Stages, s.Definition.Stages)

	if s.FinishedAt != nil {
		finished := *s.FinishedAt
		clone.FinishedAt = &finished
	}

	if s.TestResult != nil {
		result := *s.TestResult
		result.Tests = make([]TestCase, len(s.TestResult.Tests))
		copy(result.Tests, s.TestResult.Tests)
		clone.TestResult = &result
	}

	return &clone
}

// generateSessionID generates a unique session ID.
func generateSessionID() string {
	return fmt.Sprintf("sess-%s", uuid.New().String()[:8])
}
