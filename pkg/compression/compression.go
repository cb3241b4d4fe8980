// Package compression wraps the gzip and zstd codecs used for stored dex
// containers and exported hunt reports.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Type identifies a compression format.
type Type uint8

const (
	TypeGzip Type = 0
	TypeZstd Type = 1
	// TypeNone marks uncompressed data.
	TypeNone Type = 255
)

// String returns the format name.
func (t Type) String() string {
	switch t {
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	case TypeNone:
		return "none"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a format name to a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "gzip", "gz":
		return TypeGzip, nil
	case "zstd", "zst":
		return TypeZstd, nil
	case "none", "":
		return TypeNone, nil
	}
	return TypeNone, fmt.Errorf("unknown compression type: %s", name)
}

// Level trades speed for ratio.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// Compressor compresses and decompresses whole buffers.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
	Name() string
}

// GzipCompressor implements Compressor with klauspost/compress/gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a gzip compressor.
func NewGzipCompressor(level Level) *GzipCompressor {
	gz := gzip.DefaultCompression
	switch level {
	case LevelFastest:
		gz = gzip.BestSpeed
	case LevelBest:
		gz = gzip.BestCompression
	}
	return &GzipCompressor{level: gz}
}

func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *GzipCompressor) Type() Type   { return TypeGzip }
func (c *GzipCompressor) Name() string { return "gzip" }

// ZstdCompressor implements Compressor with klauspost/compress/zstd.
// Encoding is safe for concurrent use.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a zstd compressor. Call Close when done.
func NewZstdCompressor(level Level) (*ZstdCompressor, error) {
	zl := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		zl = zstd.SpeedFastest
	case LevelBest:
		zl = zstd.SpeedBestCompression
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zl))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: enc, decoder: dec}, nil
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

func (c *ZstdCompressor) Type() Type   { return TypeZstd }
func (c *ZstdCompressor) Name() string { return "zstd" }

// Close releases encoder and decoder goroutines.
func (c *ZstdCompressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// NoOpCompressor passes data through.
type NoOpCompressor struct{}

func NewNoOpCompressor() *NoOpCompressor { return &NoOpCompressor{} }

func (c *NoOpCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (c *NoOpCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (c *NoOpCompressor) Type() Type                             { return TypeNone }
func (c *NoOpCompressor) Name() string                           { return "none" }

// New creates a compressor by type and level.
func New(t Type, level Level) (Compressor, error) {
	switch t {
	case TypeZstd:
		return NewZstdCompressor(level)
	case TypeGzip:
		return NewGzipCompressor(level), nil
	case TypeNone:
		return NewNoOpCompressor(), nil
	}
	return nil, fmt.Errorf("unknown compression type: %d", t)
}

// Close closes c if it holds resources.
func Close(c Compressor) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// DetectType sniffs the compression format from magic bytes. Data in any
// other format is reported as TypeNone.
func DetectType(data []byte) Type {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return TypeZstd
	case bytes.HasPrefix(data, gzipMagic):
		return TypeGzip
	}
	return TypeNone
}

// AutoDecompress decompresses data in whatever format DetectType reports.
// Uncompressed data is returned as is.
func AutoDecompress(data []byte) ([]byte, Type, error) {
	t := DetectType(data)
	c, err := New(t, LevelDefault)
	if err != nil {
		return nil, t, err
	}
	defer Close(c)
	out, err := c.Decompress(data)
	if err != nil {
		return nil, t, fmt.Errorf("%s decompress: %w", t, err)
	}
	return out, t, nil
}

// NewWriter wraps w in a streaming compressor of type t.
func NewWriter(w io.Writer, t Type) (io.WriteCloser, error) {
	switch t {
	case TypeGzip:
		return gzip.NewWriter(w), nil
	case TypeZstd:
		return zstd.NewWriter(w)
	case TypeNone:
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("unknown compression type: %d", t)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
