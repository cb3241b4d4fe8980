package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db := newTestGormDB(t)
	require.NoError(t, Migrate(db))
	return db
}

func TestGormRunRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("GetRun_NotFound", func(t *testing.T) {
		run, err := repo.GetRun(ctx, "missing")
		assert.Nil(t, run)
		assert.Equal(t, errors.CodeNotFound, errors.GetErrorCode(err))
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		run := &model.Run{ID: "run-1", Digest: "d1", Source: "app.apk", Fingerprints: 3}
		require.NoError(t, repo.CreateRun(ctx, run))
		assert.False(t, run.CreateTime.IsZero())

		got, err := repo.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "d1", got.Digest)
		assert.Equal(t, model.RunStatusPending, got.Status)
		assert.Equal(t, 3, got.Fingerprints)
		assert.Nil(t, got.EndTime)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		err := repo.CreateRun(ctx, &model.Run{ID: "run-1", Digest: "d1"})
		assert.ErrorContains(t, err, "failed to create run")
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", model.RunStatusRunning, "scanning"))
		got, err := repo.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, got.Status)
		assert.Equal(t, "scanning", got.StatusInfo)

		err = repo.UpdateRunStatus(ctx, "missing", model.RunStatusRunning, "")
		assert.Equal(t, errors.CodeNotFound, errors.GetErrorCode(err))
	})

	t.Run("FinishRun", func(t *testing.T) {
		run := &model.Run{ID: "run-1", Status: model.RunStatusCompleted, Fingerprints: 3, Resolved: 2, Reused: 1}
		require.NoError(t, repo.FinishRun(ctx, run))
		require.NotNil(t, run.EndTime)

		got, err := repo.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.True(t, got.Finished())
		assert.Equal(t, 2, got.Resolved)
		assert.Equal(t, 1, got.Reused)
		require.NotNil(t, got.EndTime)
	})

	t.Run("ListRuns", func(t *testing.T) {
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"a", "b", "c"} {
			digest := "d2"
			if id == "c" {
				digest = "d3"
			}
			require.NoError(t, repo.CreateRun(ctx, &model.Run{ID: id, Digest: digest, CreateTime: base.Add(time.Duration(i) * time.Hour)}))
		}

		runs, err := repo.ListRuns(ctx, "d2", 0)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "b", runs[0].ID)
		assert.Equal(t, "a", runs[1].ID)

		runs, err = repo.ListRuns(ctx, "", 2)
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})
}

func TestGormResolutionRepository(t *testing.T) {
	db := setupTestDB(t)
	runs := NewGormRunRepository(db)
	repo := NewGormResolutionRepository(db)
	ctx := context.Background()

	finish := func(id string, status model.RunStatus, end time.Time) {
		require.NoError(t, runs.CreateRun(ctx, &model.Run{ID: id, Digest: "digest"}))
		require.NoError(t, runs.FinishRun(ctx, &model.Run{ID: id, Status: status, EndTime: &end}))
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finish("old", model.RunStatusCompleted, base)
	finish("new", model.RunStatusCompleted, base.Add(time.Hour))
	finish("broken", model.RunStatusFailed, base.Add(2*time.Hour))

	require.NoError(t, repo.SaveResolutions(ctx, nil))
	require.NoError(t, repo.SaveResolutions(ctx, []model.Resolution{
		{RunID: "old", Digest: "digest", Name: "login", Kind: model.KindMethod, Handles: []uint64{1}, Refs: []string{"La;->old()V"}},
	}))
	require.NoError(t, repo.SaveResolutions(ctx, []model.Resolution{
		{RunID: "new", Digest: "digest", Name: "login", QueryKey: "k1", Kind: model.KindMethod, Handles: []uint64{7}, Refs: []string{"La;->login()V"}},
		{RunID: "new", Digest: "digest", Name: "token", Kind: model.KindField, Error: "no match"},
	}))
	require.NoError(t, repo.SaveResolutions(ctx, []model.Resolution{
		{RunID: "broken", Digest: "digest", Name: "login", Handles: []uint64{9}},
	}))

	t.Run("GetResolutionsByRun", func(t *testing.T) {
		got, err := repo.GetResolutionsByRun(ctx, "new")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "login", got[0].Name)
		assert.Equal(t, []uint64{7}, got[0].Handles)
		assert.Equal(t, []string{"La;->login()V"}, got[0].Refs)
		assert.Equal(t, model.KindField, got[1].Kind)
		assert.Equal(t, "no match", got[1].Error)
		assert.Empty(t, got[1].Handles)
	})

	t.Run("LatestResolutions", func(t *testing.T) {
		latest, err := repo.LatestResolutions(ctx, "digest")
		require.NoError(t, err)
		require.Len(t, latest, 2)
		assert.Equal(t, "new", latest["login"].RunID)
		assert.Equal(t, "k1", latest["login"].QueryKey)

		latest, err = repo.LatestResolutions(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, latest)
	})

	t.Run("DuplicateName", func(t *testing.T) {
		err := repo.SaveResolutions(ctx, []model.Resolution{{RunID: "new", Name: "login"}})
		assert.ErrorContains(t, err, "failed to save resolutions")
	})
}
