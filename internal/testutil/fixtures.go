// Package testutil provides dex fixtures and helpers shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/dex/dexbuild"
)

// SampleImages parses dexbuild.SampleApp with ordinals 0 and 1.
func SampleImages(t *testing.T) []*dex.Image {
	t.Helper()
	var images []*dex.Image
	for ord, data := range dexbuild.SampleApp() {
		img, err := dex.Parse(data, dex.ParseOptions{Ordinal: ord, Name: dexbuild.EntryName(ord)})
		if err != nil {
			t.Fatalf("failed to parse sample dex %d: %v", ord, err)
		}
		images = append(images, img)
	}
	return images
}

// SampleAPK writes the sample application as an APK in a temp directory and
// returns its path.
func SampleAPK(t *testing.T) string {
	t.Helper()
	return WriteAPK(t, t.TempDir(), "sample.apk", dexbuild.SampleApp()...)
}

// WriteDex writes one dex container to dir/name.
func WriteDex(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write dex: %v", err)
	}
	return path
}

// WriteAPK writes dexes as classes.dex, classes2.dex, ... of a zip archive.
func WriteAPK(t *testing.T, dir, name string, dexes ...[]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer f.Close()
	if err := dexbuild.WriteArchive(f, dexes...); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	return path
}

// ReadFile reads a file and returns its contents.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return string(data)
}

// FileExists checks if a file exists.
func FileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}
