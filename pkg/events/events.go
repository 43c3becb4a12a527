// Package events defines event types and structures for session lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries all session lifecycle events.
const Topic = "stagehand.sessions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	SessionStartedEvent   EventType = "session.started"
	SessionCompletedEvent EventType = "session.completed"
	SessionFailedEvent    EventType = "session.failed"

	StageStartedEvent  EventType = "stage.started"
	StageFinishedEvent EventType = "stage.finished"

	FeedbackRoutedEvent      EventType = "feedback.routed"
	ValidationCompletedEvent EventType = "validation.completed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type SessionStarted struct {
	BaseEvent

	WorkflowType models.WorkflowType `json:"workflow_type"`
	Profile      string              `json:"profile,omitempty"`
	StageCount   int                 `json:"stage_count"`
}

func (e SessionStarted) GetType() EventType {
	return SessionStartedEvent
}

type SessionCompleted struct {
	BaseEvent

	WorkflowType models.WorkflowType `json:"workflow_type"`
	DurationMs   int64               `json:"duration_ms"`
	StagesRun    int                 `json:"stages_run"`
}

func (e SessionCompleted) GetType() EventType {
	return SessionCompletedEvent
}

type SessionFailed struct {
	BaseEvent

	WorkflowType models.WorkflowType `json:"workflow_type"`
	Reason       string              `json:"reason"`
	Error        string              `json:"error,omitempty"`
	DurationMs   int64               `json:"duration_ms"`
	StagesRun    int                 `json:"stages_run"`
}

func (e SessionFailed) GetType() EventType {
	return SessionFailedEvent
}

type StageStarted struct {
	BaseEvent

	StageName models.StageName `json:"stage_name"`
	Attempt   int              `json:"attempt"`
}

func (e StageStarted) GetType() EventType {
	return StageStartedEvent
}

type StageFinished struct {
	BaseEvent

	StageName    models.StageName   `json:"stage_name"`
	Attempt      int                `json:"attempt"`
	Status       models.StageStatus `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	DurationMs   int64              `json:"duration_ms"`
}

func (e StageFinished) GetType() EventType {
	return StageFinishedEvent
}

type FeedbackRouted struct {
	BaseEvent

	FromStage models.StageName `json:"from_stage"`
	ToStage   models.StageName `json:"to_stage"`
	Reason    string           `json:"reason"`
	Loop      int              `json:"loop"`
}

func (e FeedbackRouted) GetType() EventType {
	return FeedbackRoutedEvent
}

type ValidationCompleted struct {
	BaseEvent

	StageName      models.StageName      `json:"stage_name"`
	Classification models.Classification `json:"classification"`
	Framework      string                `json:"framework,omitempty"`
	Total          int                   `json:"total"`
	Failed         int                   `json:"failed"`
}

func (e ValidationCompleted) GetType() EventType {
	return ValidationCompletedEvent
}

func NewBaseEvent(eventType EventType, sessionID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Metadata:  make(map[string]any),
	}
}
