// Package repository persists hunt runs and their resolutions.
package repository

import (
	"context"

	"github.com/dexhelper/pkg/model"
)

// RunRepository stores hunt runs.
type RunRepository interface {
	// CreateRun inserts a new run. CreateTime is filled in when zero.
	CreateRun(ctx context.Context, run *model.Run) error

	// GetRun retrieves a run by its ID.
	GetRun(ctx context.Context, id string) (*model.Run, error)

	// ListRuns returns runs newest first. An empty digest lists every run.
	ListRuns(ctx context.Context, digest string, limit int) ([]*model.Run, error)

	// UpdateRunStatus updates the status of a run with additional info.
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, info string) error

	// FinishRun records the terminal status, counters and end time of run.
	FinishRun(ctx context.Context, run *model.Run) error
}

// ResolutionRepository stores per-fingerprint outcomes.
type ResolutionRepository interface {
	// SaveResolutions inserts the resolutions of one run.
	SaveResolutions(ctx context.Context, resolutions []model.Resolution) error

	// GetResolutionsByRun returns the resolutions of a run in insertion order.
	GetResolutionsByRun(ctx context.Context, runID string) ([]model.Resolution, error)

	// LatestResolutions returns the resolutions of the most recent completed
	// run over digest, keyed by fingerprint name. No such run yields an empty
	// map.
	LatestResolutions(ctx context.Context, digest string) (map[string]model.Resolution, error)
}
