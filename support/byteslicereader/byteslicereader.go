// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package byteslicereader offers R, a slice-backed reader for binary record
// formats with zero-copy options.
//
// Standard io.Reader methods require that data be copied into a target Buffer.
// The zero-copy options, Peek and Next, allow for data to be returned as slices
// of R's underlying Buffer. Fixed-width integer helpers decode directly from
// the Buffer in a caller-selected byte order.
//
// With great power comes great responsibility: holding a reference to an
// underlying Buffer means that the Buffer must persist as long as that
// reference is valid, and that modifications to that reference must be
// coordinated with any other consumers.
//
// R allows for APIs that may want to be zero-copy conditionally by exposing
// an AlwaysCopy flag. If set, R's zero-copy operations will return copies of
// the underlying Buffer, decoupling them from their base state.
package byteslicereader

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned when a fixed-size read requests more bytes than
// remain in the Buffer. The reader is not advanced when it is returned.
var ErrShortBuffer = errors.New("short buffer")

// R reads binary data out of a byte slice.
//
// R can act like an io.Reader and io.ByteReader, allowing it to interface with
// other APIs at the expense of introducing data copying.
//
// R can be copied, creating a snapshot of its current state.
type R struct {
	// Buffer is the backing buffer for this reader.
	Buffer []byte

	// AlwaysCopy, if true, causes zero-copy methods to return copies of their
	// backing data instead of direct references.
	AlwaysCopy bool

	// pos is the R's position within Buffer.
	pos int
}

var _ interface {
	io.Reader
	io.ByteReader
} = (*R)(nil)

// New returns an R positioned at the start of buf.
func New(buf []byte) *R { return &R{Buffer: buf} }

func (r *R) remainingSlice() []byte {
	if r.pos >= len(r.Buffer) {
		return nil
	}
	return r.Buffer[r.pos:]
}

// Remaining returns the number of bytes remaining in the reader, from the
// current position.
func (r *R) Remaining() int { return len(r.remainingSlice()) }

// Offset returns the current position of r within Buffer.
func (r *R) Offset() int { return r.pos }

// SetOffset moves r to an absolute position within Buffer.
//
// Positioning r exactly at the end of Buffer is legal; further reads will
// return io.EOF.
func (r *R) SetOffset(off int) error {
	if off < 0 || off > len(r.Buffer) {
		return errors.Errorf("offset %d outside of bounds [0, %d]", off, len(r.Buffer))
	}
	r.pos = off
	return nil
}

// Skip advances r by n bytes.
func (r *R) Skip(n int) error {
	if n < 0 || n > r.Remaining() {
		return ErrShortBuffer
	}
	r.pos += n
	return nil
}

// Read implements io.Reader.
//
// Note that using Read causes data to be copied.
func (r *R) Read(b []byte) (amt int, err error) {
	remaining := r.remainingSlice()
	if len(remaining) == 0 && len(b) > 0 {
		return 0, io.EOF
	}
	amt = copy(b, remaining)
	r.pos += amt
	return
}

// ReadByte implements io.ByteReader.
func (r *R) ReadByte() (b byte, err error) {
	if r.pos >= len(r.Buffer) {
		return 0, io.EOF
	}

	b, r.pos = r.Buffer[r.pos], r.pos+1
	return
}

// Peek returns the next n bytes in r without advancing it.
//
// If there are fewer than n bytes in r, Peek will return as many as possible.
func (r *R) Peek(n int) []byte {
	v := r.remainingSlice()
	if n < len(v) {
		v = v[:n]
	}

	if r.AlwaysCopy {
		v = append([]byte(nil), v...)
	}
	return v
}

// Next returns the next n bytes in r, advancing r.
//
// Next is a zero-copy equivalent to Read, and returns a slice of the underlying
// Buffer unless AlwaysCopy is true.
//
// If there are fewer than n bytes in r, Next will return ErrShortBuffer and
// will not advance.
func (r *R) Next(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, ErrShortBuffer
	}

	v := r.Buffer[r.pos : r.pos+n]
	if r.AlwaysCopy {
		v = append([]byte(nil), v...)
	}
	r.pos += n
	return v, nil
}

// Uint8 reads a single unsigned byte.
func (r *R) Uint8() (uint8, error) {
	if r.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	v := r.Buffer[r.pos]
	r.pos++
	return v, nil
}

// Uint16 reads a 2-byte unsigned integer in byte order bo.
func (r *R) Uint16(bo binary.ByteOrder) (uint16, error) {
	if r.Remaining() < 2 {
		return 0, ErrShortBuffer
	}
	v := bo.Uint16(r.Buffer[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32 reads a 4-byte unsigned integer in byte order bo.
func (r *R) Uint32(bo binary.ByteOrder) (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrShortBuffer
	}
	v := bo.Uint32(r.Buffer[r.pos:])
	r.pos += 4
	return v, nil
}

// Uint64 reads an 8-byte unsigned integer in byte order bo.
func (r *R) Uint64(bo binary.ByteOrder) (uint64, error) {
	if r.Remaining() < 8 {
		return 0, ErrShortBuffer
	}
	v := bo.Uint64(r.Buffer[r.pos:])
	r.pos += 8
	return v, nil
}

// Prefixed32 reads a 4-byte length in byte order bo followed by that many
// bytes, returning the bytes.
//
// If the declared length exceeds the remaining data, Prefixed32 returns
// ErrShortBuffer and leaves r positioned at the length prefix.
func (r *R) Prefixed32(bo binary.ByteOrder) ([]byte, error) {
	start := r.pos
	n, err := r.Uint32(bo)
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.Remaining()) {
		r.pos = start
		return nil, ErrShortBuffer
	}
	return r.Next(int(n))
}

// Sub returns a new R over the next n bytes of r and advances r past them.
//
// The returned R shares r's Buffer and AlwaysCopy setting.
func (r *R) Sub(n int) (*R, error) {
	if n < 0 || n > r.Remaining() {
		return nil, ErrShortBuffer
	}
	sub := R{
		Buffer:     r.Buffer[r.pos : r.pos+n],
		AlwaysCopy: r.AlwaysCopy,
	}
	r.pos += n
	return &sub, nil
}
