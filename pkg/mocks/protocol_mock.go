package mocks

import (
	"context"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockProducer is a mock implementation of protocol.Producer interface.
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Invoke(ctx context.Context, stage models.StageName, input string) (string, error) {
	args := m.Called(ctx, stage, input)

	return args.String(0), args.Error(1)
}

// MockReviewer is a mock implementation of protocol.Reviewer interface.
type MockReviewer struct {
	mock.Mock
}

func (m *MockReviewer) Review(ctx context.Context, stage models.StageName, artifact string) (models.Verdict, error) {
	args := m.Called(ctx, stage, artifact)

	verdict, _ := args.Get(0).(models.Verdict)

	return verdict, args.Error(1)
}

// MockTestRunner is a mock implementation of protocol.TestRunner interface.
type MockTestRunner struct {
	mock.Mock
}

func (m *MockTestRunner) Run(ctx context.Context, artifact string) (models.TestRunResult, error) {
	args := m.Called(ctx, artifact)

	result, _ := args.Get(0).(models.TestRunResult)

	return result, args.Error(1)
}
