// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package cdr

import (
	"github.com/pkg/errors"
)

// Decoding errors. Returned errors wrap one of these with position context;
// use errors.Cause to match them.
var (
	// ErrBufferUnderrun is returned when there are not enough bytes left for
	// the next primitive.
	ErrBufferUnderrun = errors.New("buffer underrun")

	// ErrInvalidLength is returned when a declared string or sequence length
	// would read past the end of the buffer.
	ErrInvalidLength = errors.New("invalid length")

	// ErrInvalidEncoding is returned for malformed strings and unknown
	// encapsulation headers.
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// ErrUnknownType is returned by Registry operations naming a type that has
// not been registered.
var ErrUnknownType = errors.New("unknown message type")

// IsDecodeError returns true if err was caused by one of the decoding
// sentinel errors.
func IsDecodeError(err error) bool {
	switch errors.Cause(err) {
	case ErrBufferUnderrun, ErrInvalidLength, ErrInvalidEncoding:
		return true
	default:
		return false
	}
}
