// Package models defines the core domain models for staged pipeline orchestration.
package models

import (
	"strings"
	"time"
)

// WorkflowType identifies a workflow variant.
type WorkflowType string

const (
	WorkflowTypeFull       WorkflowType = "full"
	WorkflowTypeTDD        WorkflowType = "tdd"
	WorkflowTypeIndividual WorkflowType = "individual"
)

// StageName identifies one unit of pipeline work.
type StageName string

const (
	StagePlanning       StageName = "planning"
	StageDesign         StageName = "design"
	StageTestWriting    StageName = "test_writing"
	StageImplementation StageName = "implementation"
	StageExecution      StageName = "execution"
	StageReview         StageName = "review"
)

// StageRole is the producer role that performs a stage's work.
type StageRole string

const (
	RolePlanner    StageRole = "planner"
	RoleDesigner   StageRole = "designer"
	RoleTestWriter StageRole = "test_writer"
	RoleCoder      StageRole = "coder"
	RoleExecutor   StageRole = "executor"
	RoleReviewer   StageRole = "reviewer"
)

// KnownStages is the closed set of stages a workflow may contain.
var KnownStages = map[StageName]StageRole{
	StagePlanning:       RolePlanner,
	StageDesign:         RoleDesigner,
	StageTestWriting:    RoleTestWriter,
	StageImplementation: RoleCoder,
	StageExecution:      RoleExecutor,
	StageReview:         RoleReviewer,
}

// StageSpec describes one stage of a resolved workflow, including the
// timeout and retry budget sourced from a configuration profile.
type StageSpec struct {
	Name               StageName     `json:"name"                  validate:"required"`
	Role               StageRole     `json:"role"                  validate:"required"`
	Description        string        `json:"description,omitempty"`
	Timeout            time.Duration `json:"timeout"               validate:"required,gt=0"`
	MaxRetries         int           `json:"max_retries"           validate:"gte=0"`
	RequiresReview     bool          `json:"requires_review"`
	RequiresValidation bool          `json:"requires_validation"`
}

// WorkflowDefinition is an ordered sequence of stages. It is immutable once
// resolved for a session.
type WorkflowDefinition struct {
	Type            WorkflowType `json:"type"              validate:"required"`
	Stages          []StageSpec  `json:"stages"            validate:"required,min=1,dive"`
	ReviewLoopLimit int          `json:"review_loop_limit" validate:"gte=0"`
	// NonRetryablePatterns are failure-detail substrings that exhaust a
	// stage immediately instead of burning retry budget.
	NonRetryablePatterns []string `json:"non_retryable_patterns,omitempty"`
}

// StageIndex returns the position of a stage in the definition, or -1.
func (d WorkflowDefinition) StageIndex(name StageName) int {
	for i, s := range d.Stages {
		if s.Name == name {
			return i
		}
	}

	return -1
}

// StageByName returns the spec for a stage in the definition.
func (d WorkflowDefinition) StageByName(name StageName) (StageSpec, bool) {
	i := d.StageIndex(name)
	if i < 0 {
		return StageSpec{}, false
	}

	return d.Stages[i], true
}

// FinalStage returns the last stage of the definition.
func (d WorkflowDefinition) FinalStage() StageSpec {
	return d.Stages[len(d.Stages)-1]
}

// Retryable reports whether a failure detail is worth retrying. A detail
// matching any non-retryable pattern indicates an environmental problem a
// retry cannot fix.
func (d WorkflowDefinition) Retryable(detail string) bool {
	lower := strings.ToLower(detail)

	for _, pattern := range d.NonRetryablePatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return false
		}
	}

	return true
}
