// Package postgresql provides PostgreSQL persistence implementation for sessions.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	// PostgreSQL driver registration.
	_ "github.com/lib/pq"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	sessionRepo *SessionRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		sessionRepo: NewSessionRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Sessions returns a filtered page of sessions.
func (p *Persistence) Sessions(ctx context.Context, opts persistence.ListSessionsOptions) (*persistence.SessionListResult, error) {
	return p.sessionRepo.List(ctx, opts)
}

// SessionByID returns a session by its ID.
func (p *Persistence) SessionByID(ctx context.Context, id string) (*models.Session, error) {
	session, err := p.sessionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSessionError("SessionByID", id, persistence.ErrSessionNotFound)
		}

		return nil, persistence.NewSessionError("SessionByID", id, err)
	}

	return session, nil
}

// SaveSession upserts a session.
func (p *Persistence) SaveSession(ctx context.Context, session *models.Session) error {
	err := p.sessionRepo.Save(ctx, session)
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	return nil
}

// DeleteSession removes a session row.
func (p *Persistence) DeleteSession(ctx context.Context, id string) error {
	err := p.sessionRepo.Delete(ctx, id)
	if err != nil {
		return persistence.NewSessionError("Delete", id, err)
	}

	return nil
}
