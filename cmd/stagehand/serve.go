package main

import (
	"context"
	"os"

	"github.com/dukex/stagehand/pkg/log"
	"github.com/dukex/stagehand/pkg/otelhelper"
	"github.com/dukex/stagehand/pkg/protocol/command"
	"github.com/dukex/stagehand/pkg/schedule"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the session API server",
		Flags: append(commonFlags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.StringFlag{
				Name:    "schedule-file",
				Usage:   "JSON file with recurring session schedules",
				Sources: cli.EnvVars("STAGEHAND_SCHEDULE_FILE"),
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log.Setup(c.String("log-level"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Stagehand API")

			if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
				if _, err := otelhelper.NewTracer(ctx, "stagehand-api"); err != nil {
					return err
				}
			}

			manager, store, cleanup, err := newManager(ctx, c, logger, command.Config{
				ProducerCommand:   c.String("producer-command"),
				ReviewerCommand:   c.String("reviewer-command"),
				TestRunnerCommand: c.String("test-runner-command"),
			})
			if err != nil {
				return err
			}
			defer cleanup(ctx)

			if scheduleFile := c.String("schedule-file"); scheduleFile != "" {
				entries, err := schedule.LoadFile(scheduleFile)
				if err != nil {
					return err
				}

				scheduler := schedule.NewScheduler(manager, logger)
				for _, entry := range entries {
					if err := scheduler.Add(entry); err != nil {
						return err
					}
				}

				scheduler.Start()

				defer func() {
					_ = scheduler.Stop(ctx)
				}()
			}

			api := NewAPI(logger, manager, store)

			return api.Start(c.Int("port"))
		},
	}
}
