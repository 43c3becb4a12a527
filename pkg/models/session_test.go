package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() WorkflowDefinition {
	return WorkflowDefinition{
		Type: WorkflowTypeFull,
		Stages: []StageSpec{
			{Name: StagePlanning, Role: RolePlanner, Timeout: time.Minute, MaxRetries: 2},
			{Name: StageImplementation, Role: RoleCoder, Timeout: time.Minute, MaxRetries: 2},
			{Name: StageReview, Role: RoleReviewer, Timeout: time.Minute, MaxRetries: 1},
		},
		ReviewLoopLimit: 3,
	}
}

func TestNewSession(t *testing.T) {
	session := NewSession("build a parser", testDefinition())

	assert.NotEmpty(t, session.ID)
	assert.Contains(t, session.ID, "sess-")
	assert.Equal(t, WorkflowTypeFull, session.WorkflowType)
	assert.Equal(t, SessionStatusRunning, session.Status)
	assert.Empty(t, session.Records)
	assert.Nil(t, session.FinishedAt)
}

func TestSessionRecordAccessors(t *testing.T) {
	session := NewSession("req", testDefinition())

	session.Records = []StageRecord{
		{StageName: StagePlanning, Attempt: 1, Status: StageStatusFailed},
		{StageName: StagePlanning, Attempt: 2, Status: StageStatusSucceeded},
		{StageName: StageImplementation, Attempt: 1, Status: StageStatusSucceeded},
	}

	assert.Len(t, session.RecordsFor(StagePlanning), 2)
	assert.Equal(t, 2, session.AttemptsFor(StagePlanning))
	assert.Equal(t, 1, session.AttemptsFor(StageImplementation))
	assert.Equal(t, 0, session.AttemptsFor(StageReview))

	last, ok := session.LastRecordFor(StagePlanning)
	require.True(t, ok)
	assert.Equal(t, 2, last.Attempt)
	assert.Equal(t, StageStatusSucceeded, last.Status)

	_, ok = session.LastRecordFor(StageReview)
	assert.False(t, ok)
}

func TestSessionFeedbackFor(t *testing.T) {
	session := NewSession("req", testDefinition())

	session.Feedback = []FeedbackEvent{
		{FromStage: StageReview, ToStage: StageImplementation, Reason: "revision_needed"},
		{FromStage: StageReview, ToStage: StagePlanning, Reason: "revision_needed"},
		{FromStage: StageReview, ToStage: StageImplementation, Reason: "revision_needed"},
	}

	assert.Len(t, session.FeedbackFor(StageImplementation), 2)
	assert.Len(t, session.FeedbackFor(StagePlanning), 1)
	assert.Empty(t, session.FeedbackFor(StageDesign))
}

func TestSessionClone(t *testing.T) {
	session := NewSession("req", testDefinition())

	finished := time.Now().UTC()
	session.FinishedAt = &finished
	session.Records = []StageRecord{{StageName: StagePlanning, Attempt: 1, Status: StageStatusSucceeded}}
	session.Feedback = []FeedbackEvent{{FromStage: StageReview, ToStage: StagePlanning}}
	session.TestResult = &TestRunResult{
		Framework: "pytest",
		Total:     2,
		Passed:    1,
		Failed:    1,
		Tests:     []TestCase{{Name: "test_a", Status: TestCaseFailed}},
	}

	clone := session.Clone()

	// Mutating the clone must not leak into the original.
	clone.Records[0].Status = StageStatusFailed
	clone.Feedback[0].ToStage = StageImplementation
	clone.TestResult.Tests[0].Status = TestCasePassed
	clone.Definition.Stages[0].MaxRetries = 99
	*clone.FinishedAt = finished.Add(time.Hour)

	assert.Equal(t, StageStatusSucceeded, session.Records[0].Status)
	assert.Equal(t, StagePlanning, session.Feedback[0].ToStage)
	assert.Equal(t, TestCaseFailed, session.TestResult.Tests[0].Status)
	assert.Equal(t, 2, session.Definition.Stages[0].MaxRetries)
	assert.Equal(t, finished, *session.FinishedAt)
}

func TestSessionElapsed(t *testing.T) {
	session := NewSession("req", testDefinition())
	session.StartedAt = time.Now().UTC().Add(-2 * time.Second)

	finished := session.StartedAt.Add(1500 * time.Millisecond)
	session.FinishedAt = &finished

	assert.Equal(t, 1500*time.Millisecond, session.Elapsed())
}
