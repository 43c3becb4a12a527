// Package schedule launches recurring sessions on a cron expression, used
// for scheduled regression runs of a fixed workflow and requirements set.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stagehand/pkg/workflow"
	"github.com/robfig/cron/v3"
)

// Entry describes one recurring launch.
type Entry struct {
	ID       string
	CronExpr string
	Options  workflow.StartOptions
}

// Validate checks the entry is runnable.
func (e Entry) Validate() error {
	if e.ID == "" {
		return errors.New("schedule entry ID is required")
	}

	if e.CronExpr == "" {
		return errors.New("schedule entry cron expression is required")
	}

	if _, err := cron.ParseStandard(e.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

// Scheduler starts sessions through the manager on cron schedules. A tick
// whose previous session is still running is skipped rather than stacked.
type Scheduler struct {
	manager *workflow.Manager
	logger  *slog.Logger
	cron    *cron.Cron
}

func NewScheduler(manager *workflow.Manager, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		manager: manager,
		logger:  logger.With("module", "scheduler"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}
}

// Add registers a recurring launch.
func (s *Scheduler) Add(entry Entry) error {
	err := entry.Validate()
	if err != nil {
		return err
	}

	logger := s.logger.With("entry_id", entry.ID, "cron", entry.CronExpr, "workflow_type", entry.Options.WorkflowType)

	_, err = s.cron.AddFunc(entry.CronExpr, func() {
		logger.Info("Scheduled session launch")

		session, err := s.manager.Start(context.Background(), entry.Options)
		if err != nil {
			logger.Error("Failed to start scheduled session", "error", err)

			return
		}

		logger.Info("Scheduled session started", "session_id", session.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for entry %s: %w", entry.ID, err)
	}

	return nil
}

// Start begins firing registered entries.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop stops firing; running sessions are left to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping scheduler")
	s.cron.Stop()

	return nil
}
