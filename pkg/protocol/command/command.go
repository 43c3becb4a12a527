// Package command implements the stage capability contracts by invoking
// external executables. The producer writes its input on stdin and reads the
// artifact from stdout; reviewer and test runner commands answer with JSON.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/protocol"
)

// Config maps each capability to the command line that implements it.
type Config struct {
	ProducerCommand   string `json:"producer_command"   validate:"required"`
	ReviewerCommand   string `json:"reviewer_command"`
	TestRunnerCommand string `json:"test_runner_command"`
}

// New builds the capability bundle from the configured commands. Stage name
// is appended as the final argument of each invocation.
func New(cfg Config) protocol.Capabilities {
	caps := protocol.Capabilities{
		Producer: &Producer{command: cfg.ProducerCommand},
	}

	if cfg.ReviewerCommand != "" {
		caps.Reviewer = &Reviewer{command: cfg.ReviewerCommand}
	}

	if cfg.TestRunnerCommand != "" {
		caps.TestRunner = &TestRunner{command: cfg.TestRunnerCommand}
	}

	return caps
}

// Producer runs the configured command with the stage input on stdin and
// treats stdout as the produced artifact.
type Producer struct {
	command string
}

func (p *Producer) Invoke(ctx context.Context, stage models.StageName, input string) (string, error) {
	output, err := run(ctx, p.command, string(stage), input)
	if err != nil {
		return "", err
	}

	return output, nil
}

// Reviewer runs the configured command with the artifact on stdin and decodes
// a Verdict from stdout.
type Reviewer struct {
	command string
}

func (r *Reviewer) Review(ctx context.Context, stage models.StageName, artifact string) (models.Verdict, error) {
	output, err := run(ctx, r.command, string(stage), artifact)
	if err != nil {
		return models.Verdict{}, err
	}

	var verdict models.Verdict

	err = json.Unmarshal([]byte(output), &verdict)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("failed to decode verdict: %w", err)
	}

	return verdict, nil
}

// TestRunner runs the configured command with the artifact on stdin and
// decodes a TestRunResult from stdout.
type TestRunner struct {
	command string
}

func (t *TestRunner) Run(ctx context.Context, artifact string) (models.TestRunResult, error) {
	output, err := run(ctx, t.command, "tests", artifact)
	if err != nil {
		return models.TestRunResult{}, err
	}

	var result models.TestRunResult

	err = json.Unmarshal([]byte(output), &result)
	if err != nil {
		return models.TestRunResult{}, fmt.Errorf("failed to decode test run result: %w", err)
	}

	return result, nil
}

func run(ctx context.Context, command, arg, input string) (string, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty capability command")
	}

	args := append(parts[1:], arg)

	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("command %s failed: %w: %s", parts[0], err, strings.TrimSpace(stderr.String()))
		}

		return "", fmt.Errorf("command %s failed: %w", parts[0], err)
	}

	return stdout.String(), nil
}
