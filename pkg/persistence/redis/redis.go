// Package redis provides Redis persistence implementation for sessions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

const (
	sessionKeyPrefix = "stagehand:sessions:"
	sessionIndexKey  = "stagehand:sessions"
)

// Persistence implements the persistence layer on Redis. Each session is a
// JSON value; an index set tracks known session IDs.
type Persistence struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPersistence creates a new Redis persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Persistence{client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (p *Persistence) Close(_ context.Context) error {
	err := p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}

	return nil
}

// HealthCheck verifies the Redis connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// SaveSession writes the session value and registers it in the index set.
func (p *Persistence) SaveSession(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID, data, 0)
	pipe.SAdd(ctx, sessionIndexKey, session.ID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	return nil
}

// SessionByID retrieves a session by its ID.
func (p *Persistence) SessionByID(ctx context.Context, id string) (*models.Session, error) {
	data, err := p.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewSessionError("SessionByID", id, persistence.ErrSessionNotFound)
		}

		return nil, persistence.NewSessionError("SessionByID", id, err)
	}

	var session models.Session

	err = json.Unmarshal(data, &session)
	if err != nil {
		return nil, persistence.NewSessionError("SessionByID", id, err)
	}

	return &session, nil
}

// DeleteSession removes the session value and its index entry.
func (p *Persistence) DeleteSession(ctx context.Context, id string) error {
	deleted, err := p.client.Del(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return persistence.NewSessionError("Delete", id, err)
	}

	if deleted == 0 {
		return persistence.NewSessionError("Delete", id, persistence.ErrSessionNotFound)
	}

	err = p.client.SRem(ctx, sessionIndexKey, id).Err()
	if err != nil {
		return persistence.NewSessionError("Delete", id, err)
	}

	return nil
}

// Sessions returns paginated and filtered sessions. Filtering and ordering
// happen in memory over the index set.
func (p *Persistence) Sessions(ctx context.Context, opts persistence.ListSessionsOptions) (*persistence.SessionListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	ids, err := p.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session index: %w", err)
	}

	sessions := make([]*models.Session, 0, len(ids))

	for _, id := range ids {
		session, err := p.SessionByID(ctx, id)
		if err != nil {
			// Index entries can outlive expired values.
			if persistence.IsSessionNotFound(err) {
				continue
			}

			return nil, err
		}

		if opts.Status != nil && session.Status != *opts.Status {
			continue
		}

		if opts.WorkflowType != nil && session.WorkflowType != *opts.WorkflowType {
			continue
		}

		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	totalCount := int64(len(sessions))

	startIdx := opts.Offset
	if startIdx >= len(sessions) {
		return &persistence.SessionListResult{
			Sessions:    make([]*models.Session, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	endIdx := opts.Offset + opts.Limit
	if endIdx > len(sessions) {
		endIdx = len(sessions)
	}

	return &persistence.SessionListResult{
		Sessions:    sessions[startIdx:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(sessions),
	}, nil
}
