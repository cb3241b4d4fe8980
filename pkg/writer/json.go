// Package writer serializes reports as JSON, optionally compressed.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dexhelper/pkg/compression"
)

// Writer encodes values of T.
type Writer[T any] interface {
	Write(data T, writer io.Writer) error
	WriteToFile(data T, path string) error
}

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: ""}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write writes the data as JSON to the writer.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	return encoder.Encode(data)
}

// WriteToFile writes the data as JSON to a file.
func (w *JSONWriter[T]) WriteToFile(data T, path string) error {
	return writeFile(path, func(f io.Writer) error { return w.Write(data, f) })
}

// CompressedWriter writes JSON through a gzip or zstd stream.
type CompressedWriter[T any] struct {
	Type compression.Type
}

// NewCompressedWriter creates a writer for the given compression type.
func NewCompressedWriter[T any](t compression.Type) *CompressedWriter[T] {
	return &CompressedWriter[T]{Type: t}
}

// Write writes the data as compressed JSON to the writer.
func (w *CompressedWriter[T]) Write(data T, writer io.Writer) error {
	cw, err := compression.NewWriter(writer, w.Type)
	if err != nil {
		return fmt.Errorf("failed to create %s writer: %w", w.Type, err)
	}
	if err := json.NewEncoder(cw).Encode(data); err != nil {
		cw.Close()
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return cw.Close()
}

// WriteToFile writes the data as compressed JSON to a file.
func (w *CompressedWriter[T]) WriteToFile(data T, path string) error {
	return writeFile(path, func(f io.Writer) error { return w.Write(data, f) })
}

// WriteResult contains statistics about the written file.
type WriteResult struct {
	JSONSize       int64
	CompressedSize int64
	CompressionPct float64
}

// WriteToFileWithStats writes data and reports the plain and compressed sizes.
func (w *CompressedWriter[T]) WriteToFileWithStats(data T, path string) (*WriteResult, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}

	var buf bytes.Buffer
	cw, err := compression.NewWriter(&buf, w.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s writer: %w", w.Type, err)
	}
	if _, err := cw.Write(jsonData); err != nil {
		cw.Close()
		return nil, fmt.Errorf("failed to write %s data: %w", w.Type, err)
	}
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s writer: %w", w.Type, err)
	}
	if err := writeFile(path, func(f io.Writer) error {
		_, err := f.Write(buf.Bytes())
		return err
	}); err != nil {
		return nil, err
	}

	res := &WriteResult{JSONSize: int64(len(jsonData)), CompressedSize: int64(buf.Len())}
	if res.JSONSize > 0 {
		res.CompressionPct = float64(res.CompressedSize) / float64(res.JSONSize) * 100
	}
	return res, nil
}

// ForPath picks a writer from the file extension: .gz and .zst compress,
// anything else is pretty JSON.
func ForPath[T any](path string) Writer[T] {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return NewCompressedWriter[T](compression.TypeGzip)
	case ".zst":
		return NewCompressedWriter[T](compression.TypeZstd)
	}
	return NewPrettyJSONWriter[T]()
}

func writeFile(path string, fn func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := fn(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
