package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/dex/dexbuild"
	"github.com/dexhelper/pkg/config"
	"github.com/dexhelper/pkg/errors"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "storage")

		storage, err := NewLocalStorage(path)
		require.NoError(t, err)
		require.NotNil(t, storage)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, path, storage.GetBasePath())
	})

	t.Run("CreateWithEmptyPath", func(t *testing.T) {
		t.Chdir(t.TempDir())

		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, "./storage", storage.GetBasePath())
	})
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	storage, err := NewLocalStorage(tempDir)
	require.NoError(t, err)
	ctx := context.Background()

	content := []byte("dex\n035\x00payload")
	require.NoError(t, storage.Upload(ctx, "apps/demo/classes.dex", bytes.NewReader(content)))

	data, err := os.ReadFile(filepath.Join(tempDir, "apps", "demo", "classes.dex"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	rc, err := storage.Download(ctx, "/apps/demo/classes.dex")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, content, got)
}

func TestLocalStorage_UploadFile(t *testing.T) {
	tempDir := t.TempDir()
	storage, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "source.apk")
	require.NoError(t, os.WriteFile(src, []byte("PK"), 0644))

	require.NoError(t, storage.UploadFile(context.Background(), "dest/app.apk", src))
	data, err := os.ReadFile(filepath.Join(tempDir, "dest", "app.apk"))
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), data)

	assert.Error(t, storage.UploadFile(context.Background(), "dest.txt", "/nonexistent/path.txt"))
}

func TestLocalStorage_Errors(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = storage.Download(context.Background(), "missing.dex")
	assert.Equal(t, errors.CodeNotFound, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "file not found")

	_, err = storage.Download(context.Background(), "../outside.dex")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetErrorCode(err))

	_, err = storage.Download(context.Background(), "")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetErrorCode(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, storage.Upload(ctx, "canceled.txt", bytes.NewReader(nil)), context.Canceled)
}

func TestLocalStorage_GetURL(t *testing.T) {
	tempDir := t.TempDir()
	storage, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tempDir, "path", "to", "file.txt"), storage.GetURL("path/to/file.txt"))
}

func TestNewStorage_Local(t *testing.T) {
	storage, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	_, ok := storage.(*LocalStorage)
	assert.True(t, ok)

	storage, err = NewStorage(&config.StorageConfig{LocalPath: t.TempDir()})
	require.NoError(t, err)
	_, ok = storage.(*LocalStorage)
	assert.True(t, ok)
}

func TestFetchers_FeedLoader(t *testing.T) {
	base := t.TempDir()
	b := dexbuild.New()
	b.Class("Lcom/remote/R;").Method("run", nil, "V", dex.AccPublic|dex.AccStatic).Code().ReturnVoid()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "apps"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "apps", "r.dex"), b.MustBuild(), 0644))

	fetchers, err := Fetchers(&config.StorageConfig{Type: "local", LocalPath: base})
	require.NoError(t, err)
	require.Contains(t, fetchers, "local")

	loader := dex.NewLoader(dex.LoaderOptions{Fetchers: fetchers})
	images, err := loader.Load(context.Background(), dex.ClassLoaderContext{Entries: []string{"local://apps/r.dex"}})
	require.NoError(t, err)
	require.Len(t, images, 1)
	_, ok := images[0].FindType("Lcom/remote/R;")
	assert.True(t, ok)
}
