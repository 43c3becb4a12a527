// Package persistence provides data storage abstraction for sessions.
package persistence

import (
	"context"

	"github.com/dukex/stagehand/pkg/models"
)

// ListSessionsOptions filters and paginates session listings.
type ListSessionsOptions struct {
	Status       *models.SessionStatus
	WorkflowType *models.WorkflowType
	Limit        int
	Offset       int
}

// SessionListResult is one page of sessions.
type SessionListResult struct {
	Sessions    []*models.Session
	TotalCount  int64
	HasNextPage bool
}

type Persistence interface {
	Sessions(ctx context.Context, opts ListSessionsOptions) (*SessionListResult, error)
	SaveSession(ctx context.Context, session *models.Session) error
	SessionByID(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
