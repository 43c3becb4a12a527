package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/stagehand/pkg/eventbus"
	"github.com/dukex/stagehand/pkg/events"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/otelhelper"
	"github.com/dukex/stagehand/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionCoordinator drives one session through its workflow definition. It
// owns the session state while running: stages execute sequentially, a cursor
// walks the stage list, and reviewer rejections move the cursor backward.
// Concurrent readers get snapshots via Snapshot; the coordinator itself is the
// only writer.
type SessionCoordinator struct {
	session      *models.Session
	capabilities protocol.Capabilities
	gate         *ValidationGate
	router       *Router
	publisher    eventbus.EventPublisher
	logger       *slog.Logger
	tracer       trace.Tracer

	mu        sync.RWMutex
	cancelled atomic.Bool

	// pending holds routed feedback consumed by the target stage's next
	// attempt. One entry per stage, overwritten on re-routing.
	pending map[models.StageName]*models.FeedbackEvent
	outputs map[models.StageName]string

	// lastArtifact is the most recent successful producer output, the
	// subject of the terminal review stage.
	lastArtifact string
	artifactFrom models.StageName
}

func NewSessionCoordinator(
	session *models.Session,
	capabilities protocol.Capabilities,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *SessionCoordinator {
	logger = logger.With("session_id", session.ID, "workflow_type", session.WorkflowType)

	return &SessionCoordinator{
		session:      session,
		capabilities: capabilities,
		gate:         NewValidationGate(capabilities.TestRunner, logger),
		router:       NewRouter(session.Definition),
		publisher:    publisher,
		logger:       logger,
		tracer:       otel.Tracer("stagehand.workflow"),
		pending:      make(map[models.StageName]*models.FeedbackEvent),
		outputs:      make(map[models.StageName]string),
	}
}

// Run executes the session to a terminal status. It returns nil when the
// session completes and the terminal error otherwise; retryable stage
// failures are absorbed internally up to budget and never escape.
func (c *SessionCoordinator) Run(ctx context.Context) error {
	def := c.session.Definition

	if err := missingCapability(def, c.capabilities); err != nil {
		return c.fail(ctx, models.ReasonInvalidWorkflow, err)
	}

	c.logger.InfoContext(ctx, "Session started", "stages", len(def.Stages))
	c.publish(ctx, events.SessionStarted{
		BaseEvent:    events.NewBaseEvent(events.SessionStartedEvent, c.session.ID),
		WorkflowType: c.session.WorkflowType,
		StageCount:   len(def.Stages),
	})

	idx := 0

	for idx < len(def.Stages) {
		// Cancellation takes effect at stage boundaries only; a running
		// stage finishes its attempt first.
		if err := c.interrupted(ctx); err != nil {
			return c.fail(ctx, models.ReasonCancelled, err)
		}

		spec := def.Stages[idx]
		c.setCurrentStage(spec.Name)

		jumpTo, err := c.runStage(ctx, spec)
		if err != nil {
			return c.fail(ctx, failureReason(err), err)
		}

		if jumpTo == "" {
			idx++

			continue
		}

		idx = def.StageIndex(jumpTo)
		if idx < 0 {
			err := fmt.Errorf("%w: feedback target %q not in workflow", ErrInvalidWorkflow, jumpTo)

			return c.fail(ctx, models.ReasonInvalidWorkflow, err)
		}
	}

	c.complete(ctx)

	return nil
}

// Snapshot returns a deep copy of the session's current state.
func (c *SessionCoordinator) Snapshot() *models.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.session.Clone()
}

// Cancel requests cooperative cancellation. The session fails at the next
// stage boundary.
func (c *SessionCoordinator) Cancel() {
	c.cancelled.Store(true)
}

// runStage executes one stage visit to completion. A non-empty jumpTo moves
// the cursor backward to the returned stage; an empty jumpTo advances it.
func (c *SessionCoordinator) runStage(ctx context.Context, spec models.StageSpec) (models.StageName, error) {
	if spec.Role == models.RoleReviewer {
		return c.runReviewStage(ctx, spec)
	}

	return "", c.runProducerStage(ctx, spec)
}

// runProducerStage runs a producer stage until it succeeds or its budgets are
// exhausted. failures counts retryable failures within this visit; inline
// reviewer rejections draw on the review loop budget instead.
func (c *SessionCoordinator) runProducerStage(ctx context.Context, spec models.StageSpec) error {
	var (
		failures    int
		lastFailure string
	)

	for {
		if failures > spec.MaxRetries {
			return fmt.Errorf("%w: stage %s failed %d times", ErrRetryBudgetExhausted, spec.Name, failures)
		}

		attempt := c.attemptNumber(spec.Name)
		input := c.buildInput(spec, lastFailure)
		startedAt := time.Now().UTC()

		c.logger.InfoContext(ctx, "Stage attempt started", "stage", spec.Name, "attempt", attempt)
		c.publish(ctx, events.StageStarted{
			BaseEvent: events.NewBaseEvent(events.StageStartedEvent, c.session.ID),
			StageName: spec.Name,
			Attempt:   attempt,
		})

		output, err := c.invoke(ctx, spec, attempt, input)
		if err != nil {
			if ctx.Err() != nil {
				return ErrSessionCancelled
			}

			status := models.StageStatusFailed
			if IsTimeout(err) {
				status = models.StageStatusTimedOut
			}

			c.finishAttempt(ctx, spec.Name, attempt, status, input, "", startedAt, err.Error())

			if !c.session.Definition.Retryable(err.Error()) {
				return fmt.Errorf("%w: non-retryable failure at stage %s: %w", ErrRetryBudgetExhausted, spec.Name, err)
			}

			failures++
			lastFailure = err.Error()

			continue
		}

		if spec.RequiresValidation {
			vf, gateErr := c.validate(ctx, spec, output)
			if gateErr != nil {
				c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusFailed, input, output, startedAt, gateErr.Error())

				failures++
				lastFailure = gateErr.Error()

				continue
			}

			if vf != nil {
				c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusFailed, input, output, startedAt, vf.Error())

				failures++
				lastFailure = vf.Detail()

				continue
			}
		}

		if spec.RequiresReview {
			verdict := c.review(ctx, spec, output)
			if !verdict.Approved() {
				loops := len(c.session.FeedbackFor(spec.Name))
				if loops >= c.session.Definition.ReviewLoopLimit {
					c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusNeedsRevision, input, output, startedAt, verdict.Detail)

					return fmt.Errorf("%w: stage %s rejected %d times", ErrReviewLoopExhausted, spec.Name, loops)
				}

				c.routeFeedback(ctx, spec.Name, spec.Name, verdict, loops+1)
				c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusNeedsRevision, input, output, startedAt, verdict.Detail)

				lastFailure = ""

				continue
			}
		}

		c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusSucceeded, input, output, startedAt, "")
		c.storeOutput(spec.Name, output)

		return nil
	}
}

// runReviewStage runs a dedicated review stage against the latest producer
// artifact. An approval advances the workflow; a rejection is routed backward
// as feedback, subject to the review loop limit.
func (c *SessionCoordinator) runReviewStage(ctx context.Context, spec models.StageSpec) (models.StageName, error) {
	attempt := c.attemptNumber(spec.Name)
	startedAt := time.Now().UTC()

	c.logger.InfoContext(ctx, "Review started", "stage", spec.Name, "attempt", attempt, "artifact_from", c.artifactFrom)
	c.publish(ctx, events.StageStarted{
		BaseEvent: events.NewBaseEvent(events.StageStartedEvent, c.session.ID),
		StageName: spec.Name,
		Attempt:   attempt,
	})

	verdict := c.review(ctx, spec, c.lastArtifact)
	if verdict.Approved() {
		c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusSucceeded, c.lastArtifact, verdict.Detail, startedAt, "")

		return "", nil
	}

	fb := c.router.Route(verdict, spec.Name)
	if fb == nil {
		// No feedback target (single-stage review): the review itself did
		// its job, the verdict is the deliverable. The rejection stays on
		// the session as feedback.
		c.mu.Lock()
		c.session.Feedback = append(c.session.Feedback, models.FeedbackEvent{
			FromStage: spec.Name,
			ToStage:   spec.Name,
			Reason:    string(models.VerdictRevisionNeeded),
			Detail:    verdict.Detail,
			CreatedAt: time.Now().UTC(),
		})
		c.mu.Unlock()

		c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusSucceeded, c.lastArtifact,
			"revision requested: "+verdict.Detail, startedAt, "")

		return "", nil
	}

	loops := len(c.session.FeedbackFor(fb.ToStage))
	if loops >= c.session.Definition.ReviewLoopLimit {
		c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusNeedsRevision, c.lastArtifact, verdict.Detail, startedAt, "")

		return "", fmt.Errorf("%w: stage %s rejected %d times", ErrReviewLoopExhausted, fb.ToStage, loops)
	}

	c.routeFeedback(ctx, spec.Name, fb.ToStage, verdict, loops+1)
	c.finishAttempt(ctx, spec.Name, attempt, models.StageStatusNeedsRevision, c.lastArtifact, verdict.Detail, startedAt, "")

	return fb.ToStage, nil
}

// invoke calls the producer capability under the stage deadline. A capability
// that outlives its deadline is abandoned; its context is cancelled and the
// attempt counts as timed out.
func (c *SessionCoordinator) invoke(ctx context.Context, spec models.StageSpec, attempt int, input string) (output string, err error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "stage.invoke "+string(spec.Name),
		attribute.String(otelhelper.SessionIDKey, c.session.ID),
		attribute.String(otelhelper.StageNameKey, string(spec.Name)),
		attribute.Int(otelhelper.StageAttemptKey, attempt),
	)

	defer func() {
		if err != nil {
			otelhelper.SetError(span, err)
		}

		span.End()
	}()

	stageCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	type result struct {
		output string
		err    error
	}

	done := make(chan result, 1)

	go func() {
		output, err := c.capabilities.Producer.Invoke(stageCtx, spec.Name, input)
		done <- result{output: output, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return "", &TimeoutError{Stage: spec.Name, Attempt: attempt, Timeout: spec.Timeout}
			}

			return "", &ProducerError{Stage: spec.Name, Attempt: attempt, Err: res.err}
		}

		return res.output, nil
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", &TimeoutError{Stage: spec.Name, Attempt: attempt, Timeout: spec.Timeout}
	}
}

// validate runs the external test gate against the artifact. Returns a
// ValidationFailure when the run did not validate the artifact, or an error
// when the runner itself could not be invoked.
func (c *SessionCoordinator) validate(ctx context.Context, spec models.StageSpec, artifact string) (*ValidationFailure, error) {
	result, classification, err := c.gate.Check(ctx, artifact)
	if err != nil {
		return nil, err
	}

	c.setTestResult(result)
	c.publish(ctx, events.ValidationCompleted{
		BaseEvent:      events.NewBaseEvent(events.ValidationCompletedEvent, c.session.ID),
		StageName:      spec.Name,
		Classification: classification,
		Framework:      result.Framework,
		Total:          result.Total,
		Failed:         result.Failed,
	})

	if classification == models.ClassificationAllPassed {
		return nil, nil
	}

	return &ValidationFailure{
		Stage:          spec.Name,
		Classification: classification,
		Result:         *result,
	}, nil
}

// review invokes the reviewer capability. A reviewer error never blocks the
// pipeline: the verdict degrades to an approval with the error noted.
func (c *SessionCoordinator) review(ctx context.Context, spec models.StageSpec, artifact string) models.Verdict {
	reviewCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	verdict, err := c.capabilities.Reviewer.Review(reviewCtx, spec.Name, artifact)
	if err != nil {
		c.logger.WarnContext(ctx, "Reviewer unavailable, approving by default", "stage", spec.Name, "error", err)

		return models.Verdict{
			Decision: models.VerdictApproved,
			Detail:   fmt.Sprintf("auto-approved: reviewer error: %v", err),
		}
	}

	return verdict
}

// buildInput assembles the producer input: the session requirements, prior
// stage outputs, any pending routed feedback and the previous failure detail.
// Pending feedback is consumed by exactly one attempt.
func (c *SessionCoordinator) buildInput(spec models.StageSpec, lastFailure string) string {
	var b strings.Builder

	b.WriteString("Requirements:\n")
	b.WriteString(c.session.Requirements)

	for _, s := range c.session.Definition.Stages {
		if s.Name == spec.Name {
			break
		}

		if output, ok := c.outputs[s.Name]; ok && output != "" {
			fmt.Fprintf(&b, "\n\nOutput of %s:\n%s", s.Name, output)
		}
	}

	if fb, ok := c.pending[spec.Name]; ok {
		fmt.Fprintf(&b, "\n\nReviewer feedback from %s:\n%s", fb.FromStage, fb.Detail)
		delete(c.pending, spec.Name)
	}

	if lastFailure != "" {
		fmt.Fprintf(&b, "\n\nPrevious attempt failed:\n%s", lastFailure)
	}

	return b.String()
}

// routeFeedback records a rejection and arms the target stage's next attempt
// with the reviewer detail.
func (c *SessionCoordinator) routeFeedback(ctx context.Context, from, to models.StageName, verdict models.Verdict, loop int) {
	fb := models.FeedbackEvent{
		FromStage: from,
		ToStage:   to,
		Reason:    string(models.VerdictRevisionNeeded),
		Detail:    verdict.Detail,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.session.Feedback = append(c.session.Feedback, fb)
	c.mu.Unlock()

	c.pending[to] = &fb

	c.logger.InfoContext(ctx, "Feedback routed", "from", from, "to", to, "loop", loop, "category", verdict.Category)
	c.publish(ctx, events.FeedbackRouted{
		BaseEvent: events.NewBaseEvent(events.FeedbackRoutedEvent, c.session.ID),
		FromStage: from,
		ToStage:   to,
		Reason:    fb.Reason,
		Loop:      loop,
	})
}

// finishAttempt appends the finalized record for one attempt. Records are
// never written in a running state, so snapshots only ever see completed
// attempts.
func (c *SessionCoordinator) finishAttempt(
	ctx context.Context,
	stage models.StageName,
	attempt int,
	status models.StageStatus,
	input, output string,
	startedAt time.Time,
	errorMessage string,
) {
	finishedAt := time.Now().UTC()

	record := models.StageRecord{
		StageName:  stage,
		Attempt:    attempt,
		Status:     status,
		Input:      input,
		Output:     output,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Error:      errorMessage,
	}

	c.mu.Lock()
	c.session.Records = append(c.session.Records, record)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Stage attempt finished",
		"stage", stage,
		"attempt", attempt,
		"status", status,
		"duration_ms", finishedAt.Sub(startedAt).Milliseconds(),
	)
	c.publish(ctx, events.StageFinished{
		BaseEvent:    events.NewBaseEvent(events.StageFinishedEvent, c.session.ID),
		StageName:    stage,
		Attempt:      attempt,
		Status:       status,
		ErrorMessage: errorMessage,
		DurationMs:   finishedAt.Sub(startedAt).Milliseconds(),
	})
}

func (c *SessionCoordinator) complete(ctx context.Context) {
	c.mu.Lock()
	now := time.Now().UTC()
	c.session.Status = models.SessionStatusCompleted
	c.session.FinishedAt = &now
	c.session.CurrentStage = ""
	stagesRun := len(c.session.Records)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Session completed", "duration_ms", c.session.Elapsed().Milliseconds())
	c.publish(ctx, events.SessionCompleted{
		BaseEvent:    events.NewBaseEvent(events.SessionCompletedEvent, c.session.ID),
		WorkflowType: c.session.WorkflowType,
		DurationMs:   c.session.Elapsed().Milliseconds(),
		StagesRun:    stagesRun,
	})
}

func (c *SessionCoordinator) fail(ctx context.Context, reason string, err error) error {
	c.mu.Lock()
	now := time.Now().UTC()
	c.session.Status = models.SessionStatusFailed
	c.session.Reason = reason
	c.session.FinishedAt = &now
	stagesRun := len(c.session.Records)
	c.mu.Unlock()

	c.logger.ErrorContext(ctx, "Session failed", "reason", reason, "error", err)
	c.publish(ctx, events.SessionFailed{
		BaseEvent:    events.NewBaseEvent(events.SessionFailedEvent, c.session.ID),
		WorkflowType: c.session.WorkflowType,
		Reason:       reason,
		Error:        err.Error(),
		DurationMs:   c.session.Elapsed().Milliseconds(),
		StagesRun:    stagesRun,
	})

	return err
}

func (c *SessionCoordinator) interrupted(ctx context.Context) error {
	if c.cancelled.Load() || ctx.Err() != nil {
		return ErrSessionCancelled
	}

	return nil
}

func (c *SessionCoordinator) setCurrentStage(stage models.StageName) {
	c.mu.Lock()
	c.session.CurrentStage = stage
	c.mu.Unlock()
}

func (c *SessionCoordinator) setTestResult(result *models.TestRunResult) {
	c.mu.Lock()
	c.session.TestResult = result
	c.mu.Unlock()
}

func (c *SessionCoordinator) storeOutput(stage models.StageName, output string) {
	c.outputs[stage] = output
	c.lastArtifact = output
	c.artifactFrom = stage
}

func (c *SessionCoordinator) attemptNumber(stage models.StageName) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.session.AttemptsFor(stage) + 1
}

func (c *SessionCoordinator) publish(ctx context.Context, event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	if err := c.publisher.Publish(ctx, c.session.ID, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// missingCapability reports the first capability a definition's stages need
// but the configured set does not provide. Checked before the first stage
// runs, so a session never reaches a stage it cannot execute.
func missingCapability(def models.WorkflowDefinition, caps protocol.Capabilities) error {
	for _, spec := range def.Stages {
		switch {
		case spec.Role != models.RoleReviewer && caps.Producer == nil:
			return fmt.Errorf("%w: stage %s requires a producer capability", ErrInvalidWorkflow, spec.Name)
		case (spec.Role == models.RoleReviewer || spec.RequiresReview) && caps.Reviewer == nil:
			return fmt.Errorf("%w: stage %s requires a reviewer capability", ErrInvalidWorkflow, spec.Name)
		case spec.RequiresValidation && caps.TestRunner == nil:
			return fmt.Errorf("%w: stage %s requires a test runner capability", ErrInvalidWorkflow, spec.Name)
		}
	}

	return nil
}

// failureReason maps a terminal error to the session failure reason exposed
// by status queries.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrReviewLoopExhausted):
		return models.ReasonReviewLoopExhausted
	case errors.Is(err, ErrSessionCancelled):
		return models.ReasonCancelled
	case errors.Is(err, ErrInvalidWorkflow):
		return models.ReasonInvalidWorkflow
	default:
		return models.ReasonRetryBudgetExhausted
	}
}
