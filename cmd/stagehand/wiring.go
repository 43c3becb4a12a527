package main

import (
	"context"
	"log/slog"

	"github.com/dukex/stagehand/pkg/cmd"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/protocol/command"
	"github.com/dukex/stagehand/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// newManager wires profiles, persistence, event bus and capabilities into a
// session manager. The returned cleanup waits for in-flight sessions before
// closing the infrastructure.
func newManager(
	ctx context.Context,
	c *cli.Command,
	logger *slog.Logger,
	capCfg command.Config,
) (*workflow.Manager, persistence.Persistence, func(context.Context), error) {
	profiles, err := newProfiles(c)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := cmd.NewPersistence(ctx, logger, c.String("database-url"))
	if err != nil {
		return nil, nil, nil, err
	}

	bus := cmd.NewEventBus(c.String("event-bus"), logger)

	manager := workflow.NewManager(
		workflow.NewDispatcher(profiles),
		command.New(capCfg),
		bus,
		store,
		logger,
	)

	cleanup := func(ctx context.Context) {
		manager.Wait()

		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}

		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}

	return manager, store, cleanup, nil
}
