package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageSpec(name models.StageName, opts ...stageOption) models.StageSpec {
	spec := models.StageSpec{
		Name:       name,
		Role:       models.KnownStages[name],
		Timeout:    time.Second,
		MaxRetries: 2,
	}

	for _, opt := range opts {
		opt(&spec)
	}

	return spec
}

func definition(workflowType models.WorkflowType, stages ...models.StageSpec) models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Type:                 workflowType,
		Stages:               stages,
		ReviewLoopLimit:      3,
		NonRetryablePatterns: []string{"permission denied", "disk full"},
	}
}

func approveAll(_ context.Context, _ models.StageName, _ string) (models.Verdict, error) {
	return models.Verdict{Decision: models.VerdictApproved}, nil
}

func echoProducer(_ context.Context, stage models.StageName, _ string) (string, error) {
	return string(stage) + " artifact", nil
}

func newCoordinator(def models.WorkflowDefinition, caps protocol.Capabilities) *SessionCoordinator {
	session := models.NewSession("build a calculator", def)

	return NewSessionCoordinator(session, caps, nil, discardLogger())
}

func TestRunFullWorkflowHappyPath(t *testing.T) {
	def := definition(models.WorkflowTypeFull,
		stageSpec(models.StagePlanning, withReview),
		stageSpec(models.StageDesign, withReview),
		stageSpec(models.StageImplementation),
		stageSpec(models.StageReview),
	)

	var inputs sync.Map

	producer := protocol.ProducerFunc(func(_ context.Context, stage models.StageName, input string) (string, error) {
		inputs.Store(stage, input)

		return string(stage) + " artifact", nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{
		Producer: producer,
		Reviewer: protocol.ReviewerFunc(approveAll),
	})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.NotNil(t, session.FinishedAt)
	assert.Len(t, session.Records, 4)
	assert.Empty(t, session.Feedback)

	for _, record := range session.Records {
		assert.Equal(t, models.StageStatusSucceeded, record.Status)
		assert.Equal(t, 1, record.Attempt)
	}

	// Later stages see earlier outputs and the requirements.
	implInput, ok := inputs.Load(models.StageImplementation)
	require.True(t, ok)
	assert.Contains(t, implInput.(string), "build a calculator")
	assert.Contains(t, implInput.(string), "planning artifact")
	assert.Contains(t, implInput.(string), "design artifact")
}

func TestRunRetriesFailedStage(t *testing.T) {
	def := definition(models.WorkflowTypeIndividual, stageSpec(models.StageImplementation))

	var (
		calls     int
		lastInput string
	)

	producer := protocol.ProducerFunc(func(_ context.Context, _ models.StageName, input string) (string, error) {
		calls++
		lastInput = input

		if calls == 1 {
			return "", errors.New("compiler crashed")
		}

		return "artifact", nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	require.Len(t, session.Records, 2)

	assert.Equal(t, models.StageStatusFailed, session.Records[0].Status)
	assert.Equal(t, 1, session.Records[0].Attempt)
	assert.Contains(t, session.Records[0].Error, "compiler crashed")

	assert.Equal(t, models.StageStatusSucceeded, session.Records[1].Status)
	assert.Equal(t, 2, session.Records[1].Attempt)

	// The retry sees the previous failure detail.
	assert.Contains(t, lastInput, "compiler crashed")
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	spec := stageSpec(models.StageImplementation)
	spec.MaxRetries = 1

	def := definition(models.WorkflowTypeIndividual, spec)

	producer := protocol.ProducerFunc(func(_ context.Context, _ models.StageName, _ string) (string, error) {
		return "", errors.New("still broken")
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer})

	err := coordinator.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusFailed, session.Status)
	assert.Equal(t, models.ReasonRetryBudgetExhausted, session.Reason)
	// max_retries+1 attempts, each with its own record.
	assert.Len(t, session.Records, 2)
}

func TestRunStageTimeout(t *testing.T) {
	spec := stageSpec(models.StageImplementation)
	spec.Timeout = 30 * time.Millisecond
	spec.MaxRetries = 0

	def := definition(models.WorkflowTypeIndividual, spec)

	producer := protocol.ProducerFunc(func(ctx context.Context, _ models.StageName, _ string) (string, error) {
		<-ctx.Done()

		return "", ctx.Err()
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer})

	err := coordinator.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)

	session := coordinator.Snapshot()
	require.Len(t, session.Records, 1)
	assert.Equal(t, models.StageStatusTimedOut, session.Records[0].Status)
	assert.Contains(t, session.Records[0].Error, "timed out")
}

func TestRunNonRetryableFailureFailsImmediately(t *testing.T) {
	def := definition(models.WorkflowTypeIndividual, stageSpec(models.StageImplementation))

	producer := protocol.ProducerFunc(func(_ context.Context, _ models.StageName, _ string) (string, error) {
		return "", errors.New("open /artifacts: permission denied")
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer})

	err := coordinator.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusFailed, session.Status)
	// No retries burned on environmental failures.
	assert.Len(t, session.Records, 1)
}

func TestRunValidationFailureRetriesWithDetail(t *testing.T) {
	def := definition(models.WorkflowTypeTDD,
		stageSpec(models.StageImplementation),
		stageSpec(models.StageExecution, withValidation),
	)

	var executionInputs []string

	producer := protocol.ProducerFunc(func(_ context.Context, stage models.StageName, input string) (string, error) {
		if stage == models.StageExecution {
			executionInputs = append(executionInputs, input)
		}

		return string(stage) + " artifact", nil
	})

	var runs int

	runner := protocol.TestRunnerFunc(func(_ context.Context, _ string) (models.TestRunResult, error) {
		runs++

		if runs == 1 {
			return models.TestRunResult{
				Framework: "pytest",
				Total:     2,
				Passed:    1,
				Failed:    1,
				Tests: []models.TestCase{
					{File: "test_calc.py", Name: "test_divide", Status: models.TestCaseFailed, Error: "ZeroDivisionError"},
				},
			}, nil
		}

		return models.TestRunResult{Framework: "pytest", Total: 2, Passed: 2}, nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer, TestRunner: runner})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Equal(t, 2, runs)

	require.Len(t, executionInputs, 2)
	// Failing test names and errors reach the retry verbatim.
	assert.Contains(t, executionInputs[1], "test_calc.py: test_divide: ZeroDivisionError")

	require.NotNil(t, session.TestResult)
	assert.Equal(t, 2, session.TestResult.Passed)
}

func TestRunNoTestsIsSoftFailure(t *testing.T) {
	spec := stageSpec(models.StageExecution, withValidation)
	spec.MaxRetries = 0

	def := definition(models.WorkflowTypeTDD, spec)

	runner := protocol.TestRunnerFunc(func(_ context.Context, _ string) (models.TestRunResult, error) {
		return models.TestRunResult{Framework: "pytest"}, nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{
		Producer:   protocol.ProducerFunc(echoProducer),
		TestRunner: runner,
	})

	err := coordinator.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)

	session := coordinator.Snapshot()
	require.Len(t, session.Records, 1)
	assert.Contains(t, session.Records[0].Error, "no_tests")
}

func TestRunReviewRejectionRoutesBack(t *testing.T) {
	def := definition(models.WorkflowTypeFull,
		stageSpec(models.StagePlanning),
		stageSpec(models.StageImplementation),
		stageSpec(models.StageReview),
	)

	var implementationInputs []string

	producer := protocol.ProducerFunc(func(_ context.Context, stage models.StageName, input string) (string, error) {
		if stage == models.StageImplementation {
			implementationInputs = append(implementationInputs, input)
		}

		return fmt.Sprintf("%s artifact v%d", stage, len(implementationInputs)), nil
	})

	var reviews int

	reviewer := protocol.ReviewerFunc(func(_ context.Context, _ models.StageName, _ string) (models.Verdict, error) {
		reviews++

		if reviews == 1 {
			return models.Verdict{
				Decision: models.VerdictRevisionNeeded,
				Category: models.DefectCategoryCode,
				Detail:   "missing error handling",
			}, nil
		}

		return models.Verdict{Decision: models.VerdictApproved}, nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer, Reviewer: reviewer})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)

	require.Len(t, session.Feedback, 1)
	assert.Equal(t, models.StageReview, session.Feedback[0].FromStage)
	assert.Equal(t, models.StageImplementation, session.Feedback[0].ToStage)

	// Implementation ran twice, the second time with the reviewer detail.
	require.Len(t, implementationInputs, 2)
	assert.Contains(t, implementationInputs[1], "missing error handling")

	// Review stage has a rejection record and an approval record.
	reviewRecords := session.RecordsFor(models.StageReview)
	require.Len(t, reviewRecords, 2)
	assert.Equal(t, models.StageStatusNeedsRevision, reviewRecords[0].Status)
	assert.Equal(t, models.StageStatusSucceeded, reviewRecords[1].Status)
}

func TestRunReviewLoopExhausted(t *testing.T) {
	def := definition(models.WorkflowTypeFull,
		stageSpec(models.StageImplementation),
		stageSpec(models.StageReview),
	)
	def.ReviewLoopLimit = 2

	reviewer := protocol.ReviewerFunc(func(_ context.Context, _ models.StageName, _ string) (models.Verdict, error) {
		return models.Verdict{Decision: models.VerdictRevisionNeeded, Category: models.DefectCategoryCode, Detail: "nope"}, nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{
		Producer: protocol.ProducerFunc(echoProducer),
		Reviewer: reviewer,
	})

	err := coordinator.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReviewLoopExhausted)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusFailed, session.Status)
	assert.Equal(t, models.ReasonReviewLoopExhausted, session.Reason)
	assert.Len(t, session.Feedback, 2)
}

func TestRunInlineReview(t *testing.T) {
	def := definition(models.WorkflowTypeTDD, stageSpec(models.StagePlanning, withReview))

	var planningInputs []string

	producer := protocol.ProducerFunc(func(_ context.Context, _ models.StageName, input string) (string, error) {
		planningInputs = append(planningInputs, input)

		return "plan", nil
	})

	var reviews int

	reviewer := protocol.ReviewerFunc(func(_ context.Context, _ models.StageName, _ string) (models.Verdict, error) {
		reviews++

		if reviews == 1 {
			return models.Verdict{Decision: models.VerdictRevisionNeeded, Detail: "plan lacks milestones"}, nil
		}

		return models.Verdict{Decision: models.VerdictApproved}, nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer, Reviewer: reviewer})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)

	records := session.RecordsFor(models.StagePlanning)
	require.Len(t, records, 2)
	assert.Equal(t, models.StageStatusNeedsRevision, records[0].Status)
	assert.Equal(t, models.StageStatusSucceeded, records[1].Status)

	// Inline rejection feeds back into the same stage's next attempt.
	require.Len(t, session.Feedback, 1)
	assert.Equal(t, models.StagePlanning, session.Feedback[0].ToStage)
	require.Len(t, planningInputs, 2)
	assert.Contains(t, planningInputs[1], "plan lacks milestones")
}

func TestRunReviewerErrorAutoApproves(t *testing.T) {
	def := definition(models.WorkflowTypeFull,
		stageSpec(models.StageImplementation),
		stageSpec(models.StageReview),
	)

	reviewer := protocol.ReviewerFunc(func(_ context.Context, _ models.StageName, _ string) (models.Verdict, error) {
		return models.Verdict{}, errors.New("reviewer offline")
	})

	coordinator := newCoordinator(def, protocol.Capabilities{
		Producer: protocol.ProducerFunc(echoProducer),
		Reviewer: reviewer,
	})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)

	reviewRecord, ok := session.LastRecordFor(models.StageReview)
	require.True(t, ok)
	assert.Equal(t, models.StageStatusSucceeded, reviewRecord.Status)
	assert.Contains(t, reviewRecord.Output, "auto-approved")
}

func TestRunCancelledBeforeStart(t *testing.T) {
	def := definition(models.WorkflowTypeIndividual, stageSpec(models.StageImplementation))

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: protocol.ProducerFunc(echoProducer)})
	coordinator.Cancel()

	err := coordinator.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionCancelled)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusFailed, session.Status)
	assert.Equal(t, models.ReasonCancelled, session.Reason)
	assert.Empty(t, session.Records)
}

func TestRunCancelTakesEffectAtStageBoundary(t *testing.T) {
	def := definition(models.WorkflowTypeFull,
		stageSpec(models.StagePlanning),
		stageSpec(models.StageImplementation),
	)

	started := make(chan struct{})

	coordinator := newCoordinator(def, protocol.Capabilities{
		Producer: protocol.ProducerFunc(func(_ context.Context, stage models.StageName, _ string) (string, error) {
			if stage == models.StagePlanning {
				close(started)
				time.Sleep(20 * time.Millisecond)
			}

			return string(stage) + " artifact", nil
		}),
	})

	// Cancel while the first stage is still running.
	go func() {
		<-started
		coordinator.Cancel()
	}()

	err := coordinator.Run(context.Background())

	session := coordinator.Snapshot()
	if err != nil {
		// Cancellation won the race: the session failed at a boundary with
		// only completed records.
		assert.ErrorIs(t, err, ErrSessionCancelled)
		assert.Equal(t, models.ReasonCancelled, session.Reason)

		for _, record := range session.Records {
			assert.NotEqual(t, models.StageStatusRunning, record.Status)
		}

		return
	}

	assert.Equal(t, models.SessionStatusCompleted, session.Status)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	def := definition(models.WorkflowTypeIndividual, stageSpec(models.StagePlanning))

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: protocol.ProducerFunc(echoProducer)})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	first := coordinator.Snapshot()
	second := coordinator.Snapshot()

	require.NotSame(t, first, second)

	first.Records[0].Output = "tampered"
	assert.Equal(t, "planning artifact", second.Records[0].Output)
}

func TestRunRecordsAreOrdered(t *testing.T) {
	def := definition(models.WorkflowTypeFull,
		stageSpec(models.StagePlanning),
		stageSpec(models.StageDesign),
		stageSpec(models.StageImplementation),
	)

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: protocol.ProducerFunc(echoProducer)})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	require.Len(t, session.Records, 3)

	for i := 1; i < len(session.Records); i++ {
		assert.False(t, session.Records[i].StartedAt.Before(session.Records[i-1].StartedAt))
	}
}

func TestRunFailsWithoutRequiredCapability(t *testing.T) {
	tests := []struct {
		name string
		def  models.WorkflowDefinition
		caps protocol.Capabilities
		want string
	}{
		{
			name: "review stage without reviewer",
			def: definition(models.WorkflowTypeFull,
				stageSpec(models.StageImplementation),
				stageSpec(models.StageReview),
			),
			caps: protocol.Capabilities{Producer: protocol.ProducerFunc(echoProducer)},
			want: "reviewer capability",
		},
		{
			name: "inline review without reviewer",
			def:  definition(models.WorkflowTypeTDD, stageSpec(models.StagePlanning, withReview)),
			caps: protocol.Capabilities{Producer: protocol.ProducerFunc(echoProducer)},
			want: "reviewer capability",
		},
		{
			name: "validation without test runner",
			def:  definition(models.WorkflowTypeTDD, stageSpec(models.StageExecution, withValidation)),
			caps: protocol.Capabilities{Producer: protocol.ProducerFunc(echoProducer)},
			want: "test runner capability",
		},
		{
			name: "producer stage without producer",
			def:  definition(models.WorkflowTypeIndividual, stageSpec(models.StagePlanning)),
			caps: protocol.Capabilities{Reviewer: protocol.ReviewerFunc(approveAll)},
			want: "producer capability",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator := newCoordinator(tt.def, tt.caps)

			err := coordinator.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidWorkflow)
			assert.Contains(t, err.Error(), tt.want)

			// Rejected before the first stage ran.
			session := coordinator.Snapshot()
			assert.Equal(t, models.SessionStatusFailed, session.Status)
			assert.Equal(t, models.ReasonInvalidWorkflow, session.Reason)
			assert.Empty(t, session.Records)
		})
	}
}

func TestRunStandaloneReviewRejection(t *testing.T) {
	def := definition(models.WorkflowTypeIndividual, stageSpec(models.StageReview))

	reviewer := protocol.ReviewerFunc(func(_ context.Context, _ models.StageName, _ string) (models.Verdict, error) {
		return models.Verdict{
			Decision: models.VerdictRevisionNeeded,
			Category: models.DefectCategoryCode,
			Detail:   "missing edge cases",
		}, nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Reviewer: reviewer})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)

	// With no revision target the verdict is the deliverable: the stage
	// succeeds carrying the requested revision, so a completed session
	// always ends on a succeeded record.
	require.Len(t, session.Records, 1)
	assert.Equal(t, models.StageStatusSucceeded, session.Records[0].Status)
	assert.Contains(t, session.Records[0].Output, "revision requested: missing edge cases")

	require.Len(t, session.Feedback, 1)
	assert.Equal(t, models.StageReview, session.Feedback[0].FromStage)
	assert.Equal(t, "missing edge cases", session.Feedback[0].Detail)
}

func TestRunTddReviewLoopsThenApproves(t *testing.T) {
	def := definition(models.WorkflowTypeTDD,
		stageSpec(models.StagePlanning),
		stageSpec(models.StageImplementation),
		stageSpec(models.StageReview),
	)

	var implementationRuns int

	producer := protocol.ProducerFunc(func(_ context.Context, stage models.StageName, _ string) (string, error) {
		if stage == models.StageImplementation {
			implementationRuns++
		}

		return fmt.Sprintf("%s artifact v%d", stage, implementationRuns), nil
	})

	var reviews int

	reviewer := protocol.ReviewerFunc(func(_ context.Context, _ models.StageName, _ string) (models.Verdict, error) {
		reviews++

		if reviews <= 2 {
			return models.Verdict{
				Decision: models.VerdictRevisionNeeded,
				Category: models.DefectCategoryCode,
				Detail:   fmt.Sprintf("rejection %d", reviews),
			}, nil
		}

		return models.Verdict{Decision: models.VerdictApproved}, nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer, Reviewer: reviewer})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)

	// Two rejections route back to implementation before the approval.
	assert.Len(t, session.RecordsFor(models.StageImplementation), 3)

	require.Len(t, session.Feedback, 2)

	for _, fb := range session.Feedback {
		assert.Equal(t, models.StageReview, fb.FromStage)
		assert.Equal(t, models.StageImplementation, fb.ToStage)
	}

	reviewRecords := session.RecordsFor(models.StageReview)
	require.Len(t, reviewRecords, 3)
	assert.Equal(t, models.StageStatusNeedsRevision, reviewRecords[0].Status)
	assert.Equal(t, models.StageStatusNeedsRevision, reviewRecords[1].Status)
	assert.Equal(t, models.StageStatusSucceeded, reviewRecords[2].Status)
}

func TestRunProducerErrorDetailIsForwarded(t *testing.T) {
	def := definition(models.WorkflowTypeIndividual, stageSpec(models.StageDesign))

	var inputs []string

	producer := protocol.ProducerFunc(func(_ context.Context, _ models.StageName, input string) (string, error) {
		inputs = append(inputs, input)

		if len(inputs) < 3 {
			return "", fmt.Errorf("draft %d rejected by linter", len(inputs))
		}

		return "design", nil
	})

	coordinator := newCoordinator(def, protocol.Capabilities{Producer: producer})

	err := coordinator.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, inputs, 3)
	assert.NotContains(t, inputs[0], "rejected by linter")
	assert.Contains(t, inputs[1], "draft 1 rejected by linter")
	assert.Contains(t, inputs[2], "draft 2 rejected by linter")

	session := coordinator.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Len(t, session.Records, 3)
}
