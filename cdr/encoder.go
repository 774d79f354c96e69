// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package cdr

import (
	"encoding/binary"
	"math"
)

// Encoder appends primitive values to a CDR buffer.
//
// The zero value is not usable; use NewEncoder.
type Encoder struct {
	buf   []byte
	order binary.ByteOrder
}

// NewEncoder returns an Encoder that writes the encapsulation header for
// order, which must be binary.LittleEndian or binary.BigEndian.
func NewEncoder(order binary.ByteOrder) *Encoder {
	e := Encoder{
		buf:   make([]byte, HeaderSize, 64),
		order: order,
	}
	if order == binary.LittleEndian {
		binary.BigEndian.PutUint16(e.buf, EncapsulationLE)
	} else {
		binary.BigEndian.PutUint16(e.buf, EncapsulationBE)
	}
	return &e
}

// Bytes returns the encoded buffer, including its header.
func (e *Encoder) Bytes() []byte { return e.buf }

// Offset returns the current payload offset.
func (e *Encoder) Offset() int { return len(e.buf) - HeaderSize }

func (e *Encoder) align(size int) {
	if rem := e.Offset() % size; rem != 0 {
		for i := rem; i < size; i++ {
			e.buf = append(e.buf, 0)
		}
	}
}

// Bool writes a 1-byte boolean.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

// Uint8 writes an unsigned byte.
func (e *Encoder) Uint8(v uint8) { e.buf = append(e.buf, v) }

// Int8 writes a signed byte.
func (e *Encoder) Int8(v int8) { e.Uint8(uint8(v)) }

// Uint16 writes an aligned 2-byte unsigned integer.
func (e *Encoder) Uint16(v uint16) {
	e.align(2)
	var b [2]byte
	e.order.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// Int16 writes an aligned 2-byte signed integer.
func (e *Encoder) Int16(v int16) { e.Uint16(uint16(v)) }

// Uint32 writes an aligned 4-byte unsigned integer.
func (e *Encoder) Uint32(v uint32) {
	e.align(4)
	var b [4]byte
	e.order.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// Int32 writes an aligned 4-byte signed integer.
func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) }

// Uint64 writes an aligned 8-byte unsigned integer.
func (e *Encoder) Uint64(v uint64) {
	e.align(8)
	var b [8]byte
	e.order.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// Int64 writes an aligned 8-byte signed integer.
func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }

// Float32 writes an aligned IEEE-754 single.
func (e *Encoder) Float32(v float32) { e.Uint32(math.Float32bits(v)) }

// Float64 writes an aligned IEEE-754 double.
func (e *Encoder) Float64(v float64) { e.Uint64(math.Float64bits(v)) }

// String writes a length-prefixed, NUL-terminated string.
func (e *Encoder) String(v string) {
	e.Uint32(uint32(len(v) + 1))
	e.buf = append(e.buf, v...)
	e.buf = append(e.buf, 0)
}

// SequenceLength writes a sequence element count.
func (e *Encoder) SequenceLength(n int) { e.Uint32(uint32(n)) }

// RawBytes appends v without alignment or a length prefix.
func (e *Encoder) RawBytes(v []byte) { e.buf = append(e.buf, v...) }
