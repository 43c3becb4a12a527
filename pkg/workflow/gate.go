package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/protocol"
)

// ValidationGate hands a produced artifact to the external test-execution
// collaborator and folds the parsed result into the retry decision. Framework
// detection is the collaborator's concern; the gate only consumes results.
type ValidationGate struct {
	runner protocol.TestRunner
	logger *slog.Logger
}

func NewValidationGate(runner protocol.TestRunner, logger *slog.Logger) *ValidationGate {
	return &ValidationGate{
		runner: runner,
		logger: logger,
	}
}

// Check runs the external validation and classifies the outcome. The returned
// error covers only runner invocation failures; a failing test run is a valid
// result with a non-passing classification.
func (g *ValidationGate) Check(ctx context.Context, artifact string) (*models.TestRunResult, models.Classification, error) {
	result, err := g.runner.Run(ctx, artifact)
	if err != nil {
		return nil, "", fmt.Errorf("test run failed: %w", err)
	}

	classification := result.Classify()

	g.logger.InfoContext(ctx, "Validation run classified",
		"classification", classification,
		"framework", result.Framework,
		"total", result.Total,
		"passed", result.Passed,
		"failed", result.Failed,
	)

	return &result, classification, nil
}
