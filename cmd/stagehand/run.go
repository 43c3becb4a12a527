package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/stagehand/pkg/log"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/profile"
	"github.com/dukex/stagehand/pkg/protocol/command"
	"github.com/dukex/stagehand/pkg/report"
	"github.com/dukex/stagehand/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run one pipeline session to completion",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:     "workflow",
				Aliases:  []string{"w"},
				Usage:    "Workflow type (full, tdd, individual)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "step",
				Usage: "Stage to run for the individual workflow",
			},
			&cli.StringFlag{
				Name:    "requirements",
				Aliases: []string{"r"},
				Usage:   "Requirements text for the session",
			},
			&cli.StringFlag{
				Name:  "requirements-file",
				Usage: "File containing the requirements text",
			},
			&cli.StringFlag{
				Name:     "producer-command",
				Usage:    "Command implementing the stage producer capability",
				Required: true,
				Sources:  cli.EnvVars("STAGEHAND_PRODUCER_COMMAND"),
			},
			&cli.StringFlag{
				Name:    "reviewer-command",
				Usage:   "Command implementing the reviewer capability",
				Sources: cli.EnvVars("STAGEHAND_REVIEWER_COMMAND"),
			},
			&cli.StringFlag{
				Name:    "test-runner-command",
				Usage:   "Command implementing the test runner capability",
				Sources: cli.EnvVars("STAGEHAND_TEST_RUNNER_COMMAND"),
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log.Setup(c.String("log-level"))

			logger := log.WithModule("runner")

			requirements, err := readRequirements(c)
			if err != nil {
				return err
			}

			manager, _, cleanup, err := newManager(ctx, c, logger, command.Config{
				ProducerCommand:   c.String("producer-command"),
				ReviewerCommand:   c.String("reviewer-command"),
				TestRunnerCommand: c.String("test-runner-command"),
			})
			if err != nil {
				return err
			}
			defer cleanup(ctx)

			session, runErr := manager.RunSession(ctx, workflow.StartOptions{
				WorkflowType: models.WorkflowType(c.String("workflow")),
				SelectedStep: models.StageName(c.String("step")),
				Profile:      c.String("profile"),
				Requirements: requirements,
			})
			if session != nil {
				fmt.Fprintln(os.Stdout, report.Render(session))
			}

			return runErr
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for persistence (file path, postgres:// or redis://)",
			Value:   "./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "profile",
			Usage:   "Configuration profile name (default, tdd, quick)",
			Sources: cli.EnvVars("STAGEHAND_PROFILE"),
		},
		&cli.StringFlag{
			Name:    "profile-file",
			Usage:   "JSON profile document to register before resolving",
			Sources: cli.EnvVars("STAGEHAND_PROFILE_FILE"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func readRequirements(c *cli.Command) (string, error) {
	if path := c.String("requirements-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read requirements file: %w", err)
		}

		return string(data), nil
	}

	requirements := c.String("requirements")
	if requirements == "" {
		return "", errors.New("either --requirements or --requirements-file is required")
	}

	return requirements, nil
}

func newProfiles(c *cli.Command) (*profile.Resolver, error) {
	profiles := profile.NewResolver()

	if path := c.String("profile-file"); path != "" {
		_, err := profiles.LoadFile(path)
		if err != nil {
			return nil, err
		}
	}

	return profiles, nil
}
