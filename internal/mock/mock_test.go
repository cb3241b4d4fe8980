package mock_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/dex/dexbuild"
	"github.com/dexhelper/internal/mock"
	"github.com/dexhelper/internal/repository"
	"github.com/dexhelper/internal/storage"
	"github.com/dexhelper/pkg/errors"
)

var (
	_ storage.Storage                 = (*mock.MockStorage)(nil)
	_ dex.Fetcher                     = (*mock.MockStorage)(nil)
	_ repository.RunRepository        = (*mock.MockRunRepository)(nil)
	_ repository.ResolutionRepository = (*mock.MockResolutionRepository)(nil)
)

func TestMockStorage_FeedsLoader(t *testing.T) {
	dexes := dexbuild.SampleApp()
	store := &mock.MockStorage{}
	store.ExpectContainer("apps/classes.dex", dexes[0])
	store.ExpectContainer("apps/classes2.dex", dexes[1])
	store.ExpectDownload("apps/gone.dex", nil, errors.New(errors.CodeNotFound, "object not found"))

	loader := dex.NewLoader(dex.LoaderOptions{Fetchers: map[string]dex.Fetcher{"s3": store}})
	images, err := loader.Load(context.Background(), dex.ParseClassPath("s3://apps/classes.dex:s3://apps/classes2.dex"))
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, 1, images[1].Ordinal)

	_, err = loader.Load(context.Background(), dex.ClassLoaderContext{Entries: []string{"s3://apps/gone.dex"}})
	assert.Equal(t, errors.CodeDownloadError, errors.GetErrorCode(err))
	assert.ErrorIs(t, err, errors.ErrNotFound)

	store.AssertExpectations(t)
}

func TestMockStorage_Upload(t *testing.T) {
	store := &mock.MockStorage{}
	store.ExpectUpload("reports/r1.json", nil)
	store.ExpectAnyUpload(errors.ErrUploadError)

	require.NoError(t, store.Upload(context.Background(), "reports/r1.json", bytes.NewReader(nil)))
	assert.ErrorIs(t, store.Upload(context.Background(), "reports/r2.json", bytes.NewReader(nil)), errors.ErrUploadError)
}
