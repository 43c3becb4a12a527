package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/stagehand/pkg/eventbus"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/protocol"
)

// StartOptions describes one session to run.
type StartOptions struct {
	WorkflowType models.WorkflowType
	SelectedStep models.StageName
	Profile      string
	Requirements string
}

// Manager owns the live coordinators. Sessions run concurrently, each on its
// own goroutine; within a session, stages remain strictly sequential. The
// manager persists a snapshot when a session starts and again when it
// reaches a terminal status.
type Manager struct {
	dispatcher   *Dispatcher
	capabilities protocol.Capabilities
	publisher    eventbus.EventPublisher
	store        persistence.Persistence
	logger       *slog.Logger

	mu           sync.RWMutex
	coordinators map[string]*SessionCoordinator

	wg sync.WaitGroup
}

func NewManager(
	dispatcher *Dispatcher,
	capabilities protocol.Capabilities,
	publisher eventbus.EventPublisher,
	store persistence.Persistence,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		dispatcher:   dispatcher,
		capabilities: capabilities,
		publisher:    publisher,
		store:        store,
		logger:       logger,
		coordinators: make(map[string]*SessionCoordinator),
	}
}

// Start resolves the workflow, launches the session on its own goroutine and
// returns the initial snapshot immediately.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*models.Session, error) {
	coordinator, err := m.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}

	m.wg.Add(1)

	// The session must outlive the request that started it.
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer m.wg.Done()

		_ = coordinator.Run(runCtx)
		m.finish(runCtx, coordinator)
	}()

	return coordinator.Snapshot(), nil
}

// RunSession resolves the workflow and runs the session to completion on the
// calling goroutine. Used by one-shot invocations that want the terminal
// session back.
func (m *Manager) RunSession(ctx context.Context, opts StartOptions) (*models.Session, error) {
	coordinator, err := m.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}

	runErr := coordinator.Run(ctx)
	m.finish(ctx, coordinator)

	return coordinator.Snapshot(), runErr
}

// Get returns a snapshot of a session, live or persisted.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	coordinator, live := m.coordinators[id]
	m.mu.RUnlock()

	if live {
		return coordinator.Snapshot(), nil
	}

	return m.store.SessionByID(ctx, id)
}

// List returns persisted sessions with live snapshots substituted in, so a
// running session's records are current rather than as-of-start.
func (m *Manager) List(ctx context.Context, opts persistence.ListSessionsOptions) (*persistence.SessionListResult, error) {
	result, err := m.store.Sessions(ctx, opts)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, session := range result.Sessions {
		if coordinator, live := m.coordinators[session.ID]; live {
			result.Sessions[i] = coordinator.Snapshot()
		}
	}

	return result, nil
}

// Cancel requests cancellation of a live session. The session fails with
// reason cancelled at its next stage boundary.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.RLock()
	coordinator, live := m.coordinators[id]
	m.mu.RUnlock()

	if live {
		coordinator.Cancel()

		return nil
	}

	_, err := m.store.SessionByID(ctx, id)
	if err != nil {
		return err
	}

	return fmt.Errorf("%w: session %s already finished", ErrSessionNotRunning, id)
}

// Wait blocks until every launched session reaches a terminal status.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) prepare(ctx context.Context, opts StartOptions) (*SessionCoordinator, error) {
	def, err := m.dispatcher.Resolve(opts.WorkflowType, opts.SelectedStep, opts.Profile)
	if err != nil {
		return nil, err
	}

	if err := missingCapability(def, m.capabilities); err != nil {
		return nil, err
	}

	session := models.NewSession(opts.Requirements, def)
	coordinator := NewSessionCoordinator(session, m.capabilities, m.publisher, m.logger)

	m.mu.Lock()
	m.coordinators[session.ID] = coordinator
	m.mu.Unlock()

	err = m.store.SaveSession(ctx, coordinator.Snapshot())
	if err != nil {
		m.mu.Lock()
		delete(m.coordinators, session.ID)
		m.mu.Unlock()

		return nil, fmt.Errorf("failed to persist session %s: %w", session.ID, err)
	}

	return coordinator, nil
}

// finish persists the terminal snapshot and retires the coordinator. Reads
// after this point are served from the store.
func (m *Manager) finish(ctx context.Context, coordinator *SessionCoordinator) {
	snapshot := coordinator.Snapshot()

	err := m.store.SaveSession(ctx, snapshot)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to persist finished session", "session_id", snapshot.ID, "error", err)
	}

	m.mu.Lock()
	delete(m.coordinators, snapshot.ID)
	m.mu.Unlock()
}
