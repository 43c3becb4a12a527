package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/stagehand/pkg/cmd"
	"github.com/dukex/stagehand/pkg/log"
	"github.com/dukex/stagehand/pkg/report"
	cli "github.com/urfave/cli/v3"
)

func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Export the execution report of a persisted session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "session-id",
				Aliases:  []string{"s"},
				Usage:    "Session to report on",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Report format (text, json, csv)",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (file path, postgres:// or redis://)",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log.Setup(c.String("log-level"))

			logger := log.WithModule("report")

			store, err := cmd.NewPersistence(ctx, logger, c.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			session, err := store.SessionByID(ctx, c.String("session-id"))
			if err != nil {
				return err
			}

			switch c.String("format") {
			case "text":
				fmt.Fprintln(os.Stdout, report.Render(session))

				return nil
			case "json":
				return report.WriteJSON(os.Stdout, session)
			case "csv":
				return report.WriteCSV(os.Stdout, session)
			default:
				return errors.New("unsupported report format, expected text, json or csv")
			}
		},
	}
}
