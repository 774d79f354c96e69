// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bag

import (
	"fmt"

	"github.com/danjacques/gorosbag/cdr"

	"github.com/pkg/errors"
)

// Kind classifies an error.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	// KindBagNotFound means a bag path or one of its files does not exist.
	KindBagNotFound
	// KindAlreadyExists means a writer was asked to create an existing path.
	KindAlreadyExists
	// KindUnsupportedVersion means the metadata version is outside 1-9.
	KindUnsupportedVersion
	// KindMetadataInconsistent means declared counts disagree with the
	// counts derivable from storage.
	KindMetadataInconsistent
	// KindDecode is a CDR decoding failure.
	KindDecode
	// KindStorage is a backend I/O failure, a malformed container or schema,
	// a checksum mismatch or a truncated file.
	KindStorage
	// KindCompression is a corrupt or unsupported compressed frame.
	KindCompression
	// KindUsage is an API misuse, such as using a closed handle.
	KindUsage
)

func (k Kind) String() string {
	switch k {
	case KindBagNotFound:
		return "bag not found"
	case KindAlreadyExists:
		return "already exists"
	case KindUnsupportedVersion:
		return "unsupported version"
	case KindMetadataInconsistent:
		return "metadata inconsistent"
	case KindDecode:
		return "decode error"
	case KindStorage:
		return "storage error"
	case KindCompression:
		return "compression error"
	case KindUsage:
		return "usage error"
	default:
		return "unknown error"
	}
}

// ErrClosed is wrapped in KindUsage errors returned by closed handles.
var ErrClosed = errors.New("handle is closed")

// Error is a classified error.
type Error struct {
	Kind Kind
	// Path is the file or directory involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewError returns an Error of kind k wrapping err.
func NewError(k Kind, path string, err error) error {
	return &Error{Kind: k, Path: path, Err: err}
}

// Errorf returns an Error of kind k with a formatted message.
func Errorf(k Kind, path, format string, args ...interface{}) error {
	return &Error{Kind: k, Path: path, Err: errors.Errorf(format, args...)}
}

// KindOf returns the Kind of the first classified error in err's chain.
//
// CDR decoding errors are reported as KindDecode.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if cdr.IsDecodeError(err) {
		return KindDecode
	}
	return KindUnknown
}

// IsKind returns true if err is classified as k.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }
