package mocks

import (
	"context"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Sessions(ctx context.Context, opts persistence.ListSessionsOptions) (*persistence.SessionListResult, error) {
	args := m.Called(ctx, opts)

	result, _ := args.Get(0).(*persistence.SessionListResult)

	return result, args.Error(1)
}

func (m *MockPersistence) SaveSession(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)

	return args.Error(0)
}

func (m *MockPersistence) SessionByID(ctx context.Context, id string) (*models.Session, error) {
	args := m.Called(ctx, id)

	session, _ := args.Get(0).(*models.Session)

	return session, args.Error(1)
}

func (m *MockPersistence) DeleteSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
