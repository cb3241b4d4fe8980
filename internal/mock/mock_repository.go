package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dexhelper/pkg/model"
)

// MockRunRepository is a mock implementation of the RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

// CreateRun mocks the CreateRun method.
func (m *MockRunRepository) CreateRun(ctx context.Context, run *model.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// GetRun mocks the GetRun method.
func (m *MockRunRepository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

// ListRuns mocks the ListRuns method.
func (m *MockRunRepository) ListRuns(ctx context.Context, digest string, limit int) ([]*model.Run, error) {
	args := m.Called(ctx, digest, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Run), args.Error(1)
}

// UpdateRunStatus mocks the UpdateRunStatus method.
func (m *MockRunRepository) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, info string) error {
	args := m.Called(ctx, id, status, info)
	return args.Error(0)
}

// FinishRun mocks the FinishRun method.
func (m *MockRunRepository) FinishRun(ctx context.Context, run *model.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// MockResolutionRepository is a mock implementation of the
// ResolutionRepository interface.
type MockResolutionRepository struct {
	mock.Mock
}

// SaveResolutions mocks the SaveResolutions method.
func (m *MockResolutionRepository) SaveResolutions(ctx context.Context, resolutions []model.Resolution) error {
	args := m.Called(ctx, resolutions)
	return args.Error(0)
}

// GetResolutionsByRun mocks the GetResolutionsByRun method.
func (m *MockResolutionRepository) GetResolutionsByRun(ctx context.Context, runID string) ([]model.Resolution, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Resolution), args.Error(1)
}

// LatestResolutions mocks the LatestResolutions method.
func (m *MockResolutionRepository) LatestResolutions(ctx context.Context, digest string) (map[string]model.Resolution, error) {
	args := m.Called(ctx, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]model.Resolution), args.Error(1)
}
