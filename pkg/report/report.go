// Package report derives execution reports from finished or running
// sessions. A report is a pure function of the session: building one twice
// from the same session yields identical content.
package report

import (
	"time"

	"github.com/dukex/stagehand/pkg/models"
)

// StageSummary aggregates all attempts of one stage.
type StageSummary struct {
	Stage       models.StageName   `json:"stage"`
	Attempts    int                `json:"attempts"`
	FinalStatus models.StageStatus `json:"final_status"`
	DurationMs  int64              `json:"duration_ms"`
	LastError   string             `json:"last_error,omitempty"`
}

// TestSummary aggregates the session's final validation run.
type TestSummary struct {
	Framework      string                `json:"framework"`
	Suite          string                `json:"suite,omitempty"`
	Classification models.Classification `json:"classification"`
	Total          int                   `json:"total"`
	Passed         int                   `json:"passed"`
	Failed         int                   `json:"failed"`
	Skipped        int                   `json:"skipped"`
	DurationMs     int64                 `json:"duration_ms"`
}

// Report is the exportable view of a session.
type Report struct {
	SessionID     string                 `json:"session_id"`
	WorkflowType  models.WorkflowType    `json:"workflow_type"`
	Status        models.SessionStatus   `json:"status"`
	Reason        string                 `json:"reason,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
	DurationMs    int64                  `json:"duration_ms"`
	TotalAttempts int                    `json:"total_attempts"`
	FeedbackLoops int                    `json:"feedback_loops"`
	Stages        []StageSummary         `json:"stages"`
	Feedback      []models.FeedbackEvent `json:"feedback,omitempty"`
	Tests         *TestSummary           `json:"tests,omitempty"`
}

// Build derives a report from a session snapshot.
func Build(session *models.Session) *Report {
	r := &Report{
		SessionID:     session.ID,
		WorkflowType:  session.WorkflowType,
		Status:        session.Status,
		Reason:        session.Reason,
		StartedAt:     session.StartedAt,
		FinishedAt:    session.FinishedAt,
		DurationMs:    session.Elapsed().Milliseconds(),
		TotalAttempts: len(session.Records),
		FeedbackLoops: len(session.Feedback),
		Feedback:      append([]models.FeedbackEvent(nil), session.Feedback...),
	}

	// One summary per visited stage, in definition order. Stages never
	// reached are omitted.
	for _, spec := range session.Definition.Stages {
		records := session.RecordsFor(spec.Name)
		if len(records) == 0 {
			continue
		}

		var durationMs int64

		for _, record := range records {
			durationMs += record.FinishedAt.Sub(record.StartedAt).Milliseconds()
		}

		last := records[len(records)-1]

		r.Stages = append(r.Stages, StageSummary{
			Stage:       spec.Name,
			Attempts:    len(records),
			FinalStatus: last.Status,
			DurationMs:  durationMs,
			LastError:   last.Error,
		})
	}

	if session.TestResult != nil {
		r.Tests = &TestSummary{
			Framework:      session.TestResult.Framework,
			Suite:          session.TestResult.Suite,
			Classification: session.TestResult.Classify(),
			Total:          session.TestResult.Total,
			Passed:         session.TestResult.Passed,
			Failed:         session.TestResult.Failed,
			Skipped:        session.TestResult.Skipped,
			DurationMs:     session.TestResult.Duration.Milliseconds(),
		}
	}

	return r
}
