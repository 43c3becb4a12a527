package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

// SessionRepository handles session-related database operations. Stage
// records, feedback and test results are stored as JSONB documents; the
// filterable columns are flattened.
type SessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sql.DB, logger *slog.Logger) *SessionRepository {
	return &SessionRepository{db: db, logger: logger}
}

// Save upserts a session.
func (sr *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	definition, err := json.Marshal(session.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	records, err := json.Marshal(session.Records)
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	if session.Records == nil {
		records = []byte("[]")
	}

	feedback, err := json.Marshal(session.Feedback)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}

	if session.Feedback == nil {
		feedback = []byte("[]")
	}

	var testResult any

	if session.TestResult != nil {
		testResult, err = json.Marshal(session.TestResult)
		if err != nil {
			return fmt.Errorf("failed to marshal test result: %w", err)
		}
	}

	query := `
		INSERT INTO sessions (
			id, workflow_type, requirements, definition, status, reason,
			current_stage, records, feedback, test_result, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			current_stage = EXCLUDED.current_stage,
			records = EXCLUDED.records,
			feedback = EXCLUDED.feedback,
			test_result = EXCLUDED.test_result,
			finished_at = EXCLUDED.finished_at
	`

	_, err = sr.db.ExecContext(ctx, query,
		session.ID,
		session.WorkflowType,
		session.Requirements,
		definition,
		session.Status,
		nullString(session.Reason),
		nullString(string(session.CurrentStage)),
		records,
		feedback,
		testResult,
		session.StartedAt,
		session.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID. Returns sql.ErrNoRows when absent.
func (sr *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, workflow_type, requirements, definition, status, reason,
		       current_stage, records, feedback, test_result, started_at, finished_at
		FROM sessions
		WHERE id = $1
	`

	return sr.scanSession(sr.db.QueryRowContext(ctx, query, id))
}

// Delete removes a session row.
func (sr *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := sr.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrSessionNotFound
	}

	return nil
}

// List returns a filtered page of sessions ordered newest first.
func (sr *SessionRepository) List(ctx context.Context, opts persistence.ListSessionsOptions) (*persistence.SessionListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	where := " WHERE 1=1"
	args := []any{}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if opts.WorkflowType != nil {
		args = append(args, *opts.WorkflowType)
		where += fmt.Sprintf(" AND workflow_type = $%d", len(args))
	}

	var totalCount int64

	err := sr.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := `
		SELECT id, workflow_type, requirements, definition, status, reason,
		       current_stage, records, feedback, test_result, started_at, finished_at
		FROM sessions
	` + where

	args = append(args, opts.Limit, opts.Offset)
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := sr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		session, err := sr.scanSession(rows)
		if err != nil {
			return nil, err
		}

		sessions = append(sessions, session)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return &persistence.SessionListResult{
		Sessions:    sessions,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(sessions)) < totalCount,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (sr *SessionRepository) scanSession(row rowScanner) (*models.Session, error) {
	var (
		session      models.Session
		definition   []byte
		records      []byte
		feedback     []byte
		testResult   []byte
		reason       sql.NullString
		currentStage sql.NullString
		finishedAt   sql.NullTime
	)

	err := row.Scan(
		&session.ID,
		&session.WorkflowType,
		&session.Requirements,
		&definition,
		&session.Status,
		&reason,
		&currentStage,
		&records,
		&feedback,
		&testResult,
		&session.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(definition, &session.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	err = json.Unmarshal(records, &session.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal records: %w", err)
	}

	err = json.Unmarshal(feedback, &session.Feedback)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal feedback: %w", err)
	}

	if len(testResult) > 0 {
		session.TestResult = &models.TestRunResult{}

		err = json.Unmarshal(testResult, session.TestResult)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal test result: %w", err)
		}
	}

	session.Reason = reason.String
	session.CurrentStage = models.StageName(currentStage.String)

	if finishedAt.Valid {
		finished := finishedAt.Time.UTC()
		session.FinishedAt = &finished
	}

	session.StartedAt = session.StartedAt.UTC()

	return &session, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
