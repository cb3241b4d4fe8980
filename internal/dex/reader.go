package dex

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Reader provides bounds-checked little-endian reads over a dex container.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader positioned at offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the size of the underlying buffer.
func (r *Reader) Len() int {
	return len(r.data)
}

// Pos returns the current offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Seek moves to an absolute offset.
func (r *Reader) Seek(off int) error {
	if off < 0 || off > len(r.data) {
		return fmt.Errorf("seek to 0x%x beyond 0x%x: %w", off, len(r.data), io.ErrUnexpectedEOF)
	}
	r.pos = off
	return nil
}

// Skip advances by n bytes.
func (r *Reader) Skip(n int) error {
	return r.Seek(r.pos + n)
}

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("read of %d bytes at 0x%x: %w", n, r.pos, io.ErrUnexpectedEOF)
	}
	return nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadULEB128 reads an unsigned LEB128 value of at most five bytes.
func (r *Reader) ReadULEB128() (uint32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, fmt.Errorf("uleb128 at 0x%x longer than 5 bytes", r.pos-5)
}

// ReadCString reads bytes up to (not including) the next NUL.
func (r *Reader) ReadCString() ([]byte, error) {
	start := r.pos
	for i := start; i < len(r.data); i++ {
		if r.data[i] == 0 {
			r.pos = i + 1
			return r.data[start:i], nil
		}
	}
	return nil, fmt.Errorf("unterminated string at 0x%x: %w", start, io.ErrUnexpectedEOF)
}
