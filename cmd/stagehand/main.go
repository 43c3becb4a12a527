// Package main provides the stagehand command-line interface.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "stagehand",
		Usage:                 "Run staged development pipelines with retry feedback",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunCommand(),
			ReportCommand(),
			ServeCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
