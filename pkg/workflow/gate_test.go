package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidationGateCheck(t *testing.T) {
	tests := []struct {
		name           string
		result         models.TestRunResult
		classification models.Classification
	}{
		{
			name:           "all passed",
			result:         models.TestRunResult{Framework: "pytest", Total: 4, Passed: 4},
			classification: models.ClassificationAllPassed,
		},
		{
			name:           "no tests",
			result:         models.TestRunResult{Framework: "pytest"},
			classification: models.ClassificationNoTests,
		},
		{
			name:           "partial failure",
			result:         models.TestRunResult{Framework: "pytest", Total: 4, Passed: 3, Failed: 1},
			classification: models.ClassificationPartialFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := protocol.TestRunnerFunc(func(_ context.Context, _ string) (models.TestRunResult, error) {
				return tt.result, nil
			})

			gate := NewValidationGate(runner, discardLogger())

			result, classification, err := gate.Check(context.Background(), "artifact")
			require.NoError(t, err)
			assert.Equal(t, tt.classification, classification)
			assert.Equal(t, tt.result.Total, result.Total)
		})
	}
}

func TestValidationGateRunnerError(t *testing.T) {
	runner := protocol.TestRunnerFunc(func(_ context.Context, _ string) (models.TestRunResult, error) {
		return models.TestRunResult{}, errors.New("runner exploded")
	})

	gate := NewValidationGate(runner, discardLogger())

	_, _, err := gate.Check(context.Background(), "artifact")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner exploded")
}
