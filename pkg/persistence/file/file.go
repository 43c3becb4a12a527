// Package file provides file-based persistence implementation for sessions.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

const sessionsDir = "sessions"

// Persistence implements the persistence.Persistence interface using the file
// system. Each session is one JSON file under <root>/sessions.
type Persistence struct {
	root string
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) (persistence.Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	err := os.MkdirAll(filepath.Join(cleanRoot, sessionsDir), 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &Persistence{root: cleanRoot}, nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// SaveSession writes the session to <root>/sessions/<id>.json, replacing any
// previous version.
func (fp *Persistence) SaveSession(_ context.Context, session *models.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	err = os.WriteFile(fp.sessionPath(session.ID), data, 0o600)
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	return nil
}

// SessionByID retrieves a session by its ID from the file system.
func (fp *Persistence) SessionByID(_ context.Context, id string) (*models.Session, error) {
	data, err := os.ReadFile(fp.sessionPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
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

// DeleteSession removes a session file.
func (fp *Persistence) DeleteSession(_ context.Context, id string) error {
	err := os.Remove(fp.sessionPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.NewSessionError("Delete", id, persistence.ErrSessionNotFound)
		}

		return persistence.NewSessionError("Delete", id, err)
	}

	return nil
}

// Sessions returns paginated and filtered sessions with in-memory operations.
func (fp *Persistence) Sessions(ctx context.Context, opts persistence.ListSessionsOptions) (*persistence.SessionListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	root := os.DirFS(filepath.Join(fp.root, sessionsDir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list session files: %w", err)
	}

	sessions := make([]*models.Session, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := strings.TrimSuffix(file, ".json")

		session, err := fp.SessionByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", id, err)
		}

		if opts.Status != nil && session.Status != *opts.Status {
			continue
		}

		if opts.WorkflowType != nil && session.WorkflowType != *opts.WorkflowType {
			continue
		}

		sessions = append(sessions, session)
	}

	// Newest sessions first.
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

func (fp *Persistence) sessionPath(id string) string {
	return filepath.Join(fp.root, sessionsDir, id+".json")
}
