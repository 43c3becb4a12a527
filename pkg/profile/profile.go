// Package profile provides named configuration profiles supplying per-stage
// timeout and retry budgets plus workflow-wide review loop limits. A profile
// is resolved once per session as an immutable snapshot and never mutated
// mid-run.
package profile

import (
	"strings"
	"time"

	"github.com/dukex/stagehand/pkg/models"
)

// StageBudget is the per-stage slice of a profile.
type StageBudget struct {
	TimeoutSeconds int `json:"timeout_seconds" validate:"required,gt=0"`
	MaxRetries     int `json:"max_retries"     validate:"gte=0"`
}

// Timeout returns the budget's timeout as a duration.
func (b StageBudget) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// Profile is a named bundle of stage budgets and retry policy hints.
type Profile struct {
	Name            string                            `json:"name"              validate:"required,min=1"`
	ReviewLoopLimit int                               `json:"review_loop_limit" validate:"gte=0"`
	Stages          map[models.StageName]StageBudget  `json:"stages"            validate:"required,min=1,dive"`
	Defaults        StageBudget                       `json:"defaults"`
	// NonRetryablePatterns are substrings of failure details that indicate
	// environmental problems a retry cannot fix (disk full, permissions).
	NonRetryablePatterns []string `json:"non_retryable_patterns,omitempty"`
}

// Budget returns the stage's budget, falling back to the profile defaults.
func (p Profile) Budget(stage models.StageName) StageBudget {
	if b, ok := p.Stages[stage]; ok {
		return b
	}

	return p.Defaults
}

// Retryable reports whether a failure detail is worth retrying. Matches
// against the profile's non-retryable patterns, case-insensitively.
func (p Profile) Retryable(detail string) bool {
	lower := strings.ToLower(detail)

	for _, pattern := range p.NonRetryablePatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return false
		}
	}

	return true
}

// Clone returns an independent copy of the profile.
func (p Profile) Clone() Profile {
	clone := p

	clone.Stages = make(map[models.StageName]StageBudget, len(p.Stages))
	for name, budget := range p.Stages {
		clone.Stages[name] = budget
	}

	clone.NonRetryablePatterns = make([]string, len(p.NonRetryablePatterns))
	copy(clone.NonRetryablePatterns, p.NonRetryablePatterns)

	return clone
}
