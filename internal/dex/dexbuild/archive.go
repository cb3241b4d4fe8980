package dexbuild

import (
	"archive/zip"
	"fmt"
	"io"
)

// EntryName is the archive name of the i-th dex: classes.dex, classes2.dex, ...
func EntryName(i int) string {
	if i == 0 {
		return "classes.dex"
	}
	return fmt.Sprintf("classes%d.dex", i+1)
}

// WriteArchive writes dexes as the classes*.dex entries of a zip archive.
func WriteArchive(w io.Writer, dexes ...[]byte) error {
	zw := zip.NewWriter(w)
	for i, data := range dexes {
		f, err := zw.Create(EntryName(i))
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", EntryName(i), err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", EntryName(i), err)
		}
	}
	return zw.Close()
}
