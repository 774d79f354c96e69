// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package cdr

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/danjacques/gorosbag/support/byteslicereader"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the encapsulation header.
const HeaderSize = 4

// Encapsulation kinds, stored big endian in the first two header bytes.
const (
	// EncapsulationBE is plain CDR, big endian.
	EncapsulationBE = 0x0000
	// EncapsulationLE is plain CDR, little endian.
	EncapsulationLE = 0x0001
)

// Decoder reads primitive values from a CDR buffer.
//
// Decoder never reads past the end of its buffer. Errors leave the Decoder at
// the position of the failed read.
type Decoder struct {
	r     byteslicereader.R
	order binary.ByteOrder
}

// NewDecoder parses the encapsulation header of buf and returns a Decoder
// positioned at the start of the payload.
//
// The returned Decoder references buf; byte slices it returns alias buf.
func NewDecoder(buf []byte) (*Decoder, error) {
	if len(buf) < HeaderSize {
		return nil, errors.Wrapf(ErrBufferUnderrun, "encapsulation header needs %d bytes, have %d",
			HeaderSize, len(buf))
	}

	d := Decoder{r: byteslicereader.R{Buffer: buf}}
	switch buf[1] {
	case 0:
		d.order = binary.BigEndian
	case 1:
		d.order = binary.LittleEndian
	default:
		return nil, errors.Wrapf(ErrInvalidEncoding, "unknown encapsulation kind 0x%02X%02X", buf[0], buf[1])
	}
	_ = d.r.Skip(HeaderSize)
	return &d, nil
}

// ByteOrder returns the byte order selected by the encapsulation header.
func (d *Decoder) ByteOrder() binary.ByteOrder { return d.order }

// Offset returns the current payload offset.
func (d *Decoder) Offset() int { return d.r.Offset() - HeaderSize }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return d.r.Remaining() }

// align skips the padding needed to bring the payload offset to a multiple of
// size, confirming that size bytes follow it.
func (d *Decoder) align(size int) error {
	pad := 0
	if rem := d.Offset() % size; rem != 0 {
		pad = size - rem
	}
	if d.r.Remaining() < pad+size {
		return errors.Wrapf(ErrBufferUnderrun, "reading %d bytes at offset %d (%d remaining)",
			size, d.Offset(), d.r.Remaining())
	}
	return d.r.Skip(pad)
}

// Bool reads a 1-byte boolean. Any non-zero value is true.
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint8()
	return v != 0, err
}

// Uint8 reads an unsigned byte.
func (d *Decoder) Uint8() (uint8, error) {
	if err := d.align(1); err != nil {
		return 0, err
	}
	return d.r.Uint8()
}

// Int8 reads a signed byte.
func (d *Decoder) Int8() (int8, error) {
	v, err := d.Uint8()
	return int8(v), err
}

// Uint16 reads an aligned 2-byte unsigned integer.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.align(2); err != nil {
		return 0, err
	}
	return d.r.Uint16(d.order)
}

// Int16 reads an aligned 2-byte signed integer.
func (d *Decoder) Int16() (int16, error) {
	v, err := d.Uint16()
	return int16(v), err
}

// Uint32 reads an aligned 4-byte unsigned integer.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.align(4); err != nil {
		return 0, err
	}
	return d.r.Uint32(d.order)
}

// Int32 reads an aligned 4-byte signed integer.
func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

// Uint64 reads an aligned 8-byte unsigned integer.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.align(8); err != nil {
		return 0, err
	}
	return d.r.Uint64(d.order)
}

// Int64 reads an aligned 8-byte signed integer.
func (d *Decoder) Int64() (int64, error) {
	v, err := d.Uint64()
	return int64(v), err
}

// Float32 reads an aligned IEEE-754 single.
func (d *Decoder) Float32() (float32, error) {
	v, err := d.Uint32()
	return math.Float32frombits(v), err
}

// Float64 reads an aligned IEEE-754 double.
func (d *Decoder) Float64() (float64, error) {
	v, err := d.Uint64()
	return math.Float64frombits(v), err
}

// String reads a length-prefixed, NUL-terminated UTF-8 string.
//
// A zero length is accepted as the empty string.
func (d *Decoder) String() (string, error) {
	start := d.Offset()
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if uint64(n) > uint64(d.r.Remaining()) {
		return "", errors.Wrapf(ErrInvalidLength, "string at offset %d declares %d bytes, %d remaining",
			start, n, d.r.Remaining())
	}

	raw, _ := d.r.Next(int(n))
	if raw[n-1] != 0 {
		return "", errors.Wrapf(ErrInvalidEncoding, "string at offset %d is not NUL-terminated", start)
	}
	raw = raw[:n-1]
	if !utf8.Valid(raw) {
		return "", errors.Wrapf(ErrInvalidEncoding, "string at offset %d is not valid UTF-8", start)
	}
	return string(raw), nil
}

// SequenceLength reads a sequence element count.
//
// minElemSize is the smallest number of bytes a single element can occupy;
// a count that cannot possibly fit in the remaining buffer fails with
// ErrInvalidLength.
func (d *Decoder) SequenceLength(minElemSize int) (int, error) {
	start := d.Offset()
	n, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if minElemSize < 1 {
		minElemSize = 1
	}
	if uint64(n)*uint64(minElemSize) > uint64(d.r.Remaining()) {
		return 0, errors.Wrapf(ErrInvalidLength, "sequence at offset %d declares %d elements, %d bytes remaining",
			start, n, d.r.Remaining())
	}
	return int(n), nil
}

// Bytes reads n raw bytes. The result is a copy.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	if n > d.r.Remaining() {
		return nil, errors.Wrapf(ErrBufferUnderrun, "reading %d bytes at offset %d (%d remaining)",
			n, d.Offset(), d.r.Remaining())
	}
	v, _ := d.r.Next(n)
	out := make([]byte, n)
	copy(out, v)
	return out, nil
}
