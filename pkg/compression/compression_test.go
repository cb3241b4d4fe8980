package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = bytes.Repeat([]byte("dex\n035\x00classes.dex "), 64)

func TestCompressors_RoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeNone} {
		t.Run(typ.String(), func(t *testing.T) {
			c, err := New(typ, LevelDefault)
			require.NoError(t, err)
			defer Close(c)

			packed, err := c.Compress(sample)
			require.NoError(t, err)
			assert.Equal(t, typ, DetectType(packed))

			out, err := c.Decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, sample, out)
			assert.Equal(t, typ, c.Type())
			assert.Equal(t, typ.String(), c.Name())
		})
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Type
	}{
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, TypeZstd},
		{"gzip", []byte{0x1f, 0x8b, 0x08}, TypeGzip},
		{"dex", []byte("dex\n035\x00"), TypeNone},
		{"zip", []byte("PK\x03\x04"), TypeNone},
		{"short", []byte{0x1f}, TypeNone},
		{"empty", nil, TypeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectType(tt.data))
		})
	}
}

func TestAutoDecompress(t *testing.T) {
	gz, err := NewGzipCompressor(LevelFastest).Compress(sample)
	require.NoError(t, err)

	out, typ, err := AutoDecompress(gz)
	require.NoError(t, err)
	assert.Equal(t, TypeGzip, typ)
	assert.Equal(t, sample, out)

	out, typ, err = AutoDecompress(sample)
	require.NoError(t, err)
	assert.Equal(t, TypeNone, typ)
	assert.Equal(t, sample, out)

	_, _, err = AutoDecompress([]byte{0x1f, 0x8b, 0x00, 0x00})
	assert.Error(t, err)
}

func TestNewWriter(t *testing.T) {
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeNone} {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, typ)
		require.NoError(t, err)
		_, err = io.Copy(w, bytes.NewReader(sample))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		out, detected, err := AutoDecompress(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, typ, detected)
		assert.Equal(t, sample, out)
	}
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]Type{"gzip": TypeGzip, "zst": TypeZstd, "": TypeNone} {
		got, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("lz4")
	assert.Error(t, err)
}
