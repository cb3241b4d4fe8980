package hunt_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dexhelper/internal/dex/dexbuild"
	"github.com/dexhelper/internal/hunt"
	"github.com/dexhelper/internal/mock"
	"github.com/dexhelper/internal/repository"
	"github.com/dexhelper/pkg/config"
	"github.com/dexhelper/pkg/model"
	"github.com/dexhelper/pkg/utils"
)

func sampleSet(t *testing.T) *hunt.Set {
	t.Helper()
	set, err := hunt.Parse(strings.NewReader(fmt.Sprintf(`
fingerprints:
  - name: sync
    string: sync_token
  - name: callers
    invoking: %q
  - name: token_reader
    getting: %q
  - name: missing
    invoking: "Lcom/example/Nope;->x()V"
`, dexbuild.SampleRequest.String(), dexbuild.SampleToken.String())))
	require.NoError(t, err)
	return set
}

func openRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db, err := repository.Open(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "hunt.db"),
	})
	require.NoError(t, err)
	repos := repository.NewRepositories(db)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func TestRunner_PersistAndReuse(t *testing.T) {
	h := newHelper(t)
	repos := openRepos(t)
	ctx := context.Background()
	out := t.TempDir()

	runner := hunt.NewRunner(h, hunt.Options{
		Workers:     2,
		OutputDir:   out,
		ReportExt:   ".json.zst",
		Runs:        repos.Run,
		Resolutions: repos.Resolution,
	})

	first, err := runner.Run(ctx, "sample.apk", sampleSet(t))
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, first.Run.Status)
	assert.Equal(t, 4, first.Run.Fingerprints)
	assert.Equal(t, 2, first.Run.Resolved) // sync and token_reader
	assert.Equal(t, 0, first.Run.Reused)
	assert.ElementsMatch(t, []string{"missing"}, first.Unresolved())
	assert.ElementsMatch(t, []string{"callers"}, first.Ambiguous())

	require.Len(t, first.Resolutions, 4)
	assert.Equal(t, "sync", first.Resolutions[0].Name)
	assert.Equal(t, []string{dexbuild.SampleSyncRun.String()}, first.Resolutions[0].Refs)
	assert.Contains(t, first.Resolutions[3].Error, "not found")

	stored, err := repos.Run.GetRun(ctx, first.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stored.Status)
	assert.NotNil(t, stored.EndTime)

	loaded, err := hunt.LoadReport(first.Path)
	require.NoError(t, err)
	assert.Equal(t, first.Run.ID, loaded.Run.ID)
	assert.Equal(t, first.Resolutions[1].Refs, loaded.Resolutions[1].Refs)

	// an edited fingerprint is resolved again; the failed one is retried
	set := sampleSet(t)
	set.Fingerprints[2].Setting, set.Fingerprints[2].Getting = set.Fingerprints[2].Getting, ""
	second, err := runner.Run(ctx, "sample.apk", set)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Run.Reused)
	assert.True(t, second.Resolutions[0].Reused)
	assert.True(t, second.Resolutions[1].Reused)
	assert.False(t, second.Resolutions[2].Reused)
	assert.False(t, second.Resolutions[3].Reused)
	assert.Equal(t, []string{dexbuild.SampleOnCreate.String()}, second.Resolutions[2].Refs)
	assert.Equal(t, first.Resolutions[1].Handles, second.Resolutions[1].Handles)
	for _, res := range second.Resolutions {
		assert.Equal(t, second.Run.ID, res.RunID)
	}

	runs, err := repos.Run.ListRuns(ctx, first.Run.Digest, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunner_NoCollaborators(t *testing.T) {
	h := newHelper(t)
	clock := utils.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	report, err := hunt.NewRunner(h, hunt.Options{Clock: clock}).Run(context.Background(), "", sampleSet(t))
	require.NoError(t, err)
	assert.Empty(t, report.Path)
	assert.Equal(t, clock.Now(), report.Run.CreateTime)
	assert.Len(t, report.Run.Digest, 64)
}

func TestRunner_Upload(t *testing.T) {
	h := newHelper(t)
	digest, err := h.Digest()
	require.NoError(t, err)

	runs := new(mock.MockRunRepository)
	resolutions := new(mock.MockResolutionRepository)
	store := new(mock.MockStorage)

	runs.On("CreateRun", testifymock.Anything, testifymock.AnythingOfType("*model.Run")).Return(nil)
	runs.On("FinishRun", testifymock.Anything, testifymock.MatchedBy(func(r *model.Run) bool {
		return r.Status == model.RunStatusCompleted
	})).Return(nil)
	resolutions.On("LatestResolutions", testifymock.Anything, digest).Return(map[string]model.Resolution{}, nil)
	resolutions.On("SaveResolutions", testifymock.Anything, testifymock.MatchedBy(func(rs []model.Resolution) bool {
		return len(rs) == 4
	})).Return(nil)
	store.On("UploadFile", testifymock.Anything, testifymock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "hunts/"+digest+"/") && strings.HasSuffix(key, ".json.gz")
	}), testifymock.Anything).Return(nil)
	store.On("GetURL", testifymock.Anything).Return("https://bucket.example.com/report")

	report, err := hunt.NewRunner(h, hunt.Options{
		OutputDir:   t.TempDir(),
		ReportExt:   ".json.gz",
		Runs:        runs,
		Resolutions: resolutions,
		Storage:     store,
	}).Run(context.Background(), "s3://apps/sample.apk", sampleSet(t))
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example.com/report", report.URL)

	runs.AssertExpectations(t)
	resolutions.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRunner_Failure(t *testing.T) {
	h := newHelper(t)

	runs := new(mock.MockRunRepository)
	resolutions := new(mock.MockResolutionRepository)
	runs.On("CreateRun", testifymock.Anything, testifymock.Anything).Return(nil)
	runs.On("FinishRun", testifymock.Anything, testifymock.MatchedBy(func(r *model.Run) bool {
		return r.Status == model.RunStatusFailed && strings.Contains(r.StatusInfo, "db down")
	})).Return(nil)
	resolutions.On("LatestResolutions", testifymock.Anything, testifymock.Anything).Return(nil, fmt.Errorf("db down"))

	_, err := hunt.NewRunner(h, hunt.Options{Runs: runs, Resolutions: resolutions}).
		Run(context.Background(), "", sampleSet(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load previous resolutions")

	runs.AssertExpectations(t)
	resolutions.AssertNotCalled(t, "SaveResolutions", testifymock.Anything, testifymock.Anything)
}

func TestRunner_Canceled(t *testing.T) {
	h := newHelper(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := hunt.NewRunner(h, hunt.Options{}).Run(ctx, "", sampleSet(t))
	assert.ErrorIs(t, err, context.Canceled)
}
