// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package storage defines the interface between bag orchestration and the
// container formats that hold a bag's messages.
//
// A backend stores a set of connections and an append-only sequence of
// timestamped messages in a single file. Backends know nothing about
// multi-file bags or metadata.yaml; those belong to the caller.
package storage

import (
	"math"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/support/logging"
)

// Cursor iterates over a backend's messages in non-decreasing timestamp
// order.
type Cursor interface {
	// Next returns the next message.
	//
	// At the end of the sequence, Next returns io.EOF. Any other error
	// concerns a single item: the caller may call Next again to continue with
	// the following message. A cursor that cannot continue after an error
	// returns io.EOF on the next call.
	Next() (*bag.Message, error)

	// Close releases the cursor's resources. It is safe to call Close more
	// than once.
	Close() error
}

// Reader is an open storage file.
type Reader interface {
	// Path returns the path of the storage file.
	Path() string

	// Connections returns the file's connections, ordered by ID.
	Connections() []bag.Connection

	// Stats computes message statistics from the file's contents.
	Stats() (*Stats, error)

	// Messages returns a Cursor over the messages selected by f.
	Messages(f bag.Filter) (Cursor, error)

	// EmbeddedMetadata returns the bag metadata stored in the file by its
	// writer, if any.
	EmbeddedMetadata() (*bag.Metadata, bool)

	// Close releases the file. Outstanding cursors are closed.
	Close() error
}

// Writer creates a storage file.
type Writer interface {
	// Path returns the path of the storage file.
	Path() string

	// AddConnection registers a connection. Connection IDs are chosen by the
	// caller and must be unique.
	AddConnection(conn bag.Connection) error

	// WriteMessage appends a message on a registered connection. data is the
	// uncompressed payload.
	WriteMessage(connID int, ts int64, data []byte) error

	// Size returns the approximate number of bytes written so far.
	Size() int64

	// Finalize completes the file, embedding md if it is not nil, and returns
	// statistics derived from the written file.
	Finalize(md *bag.Metadata) (*Stats, error)

	// Close releases the writer. If Finalize has not been called, pending data
	// is flushed on a best-effort basis.
	Close() error
}

// Options configures a backend.
//
// The zero value is valid and selects defaults.
type Options struct {
	// CompressionMode and CompressionFormat select compression for
	// writers. Readers use them to interpret message payloads; when empty, a
	// reader consults the file's embedded metadata.
	CompressionMode   bag.CompressionMode
	CompressionFormat bag.CompressionFormat
	// CompressionLevel is the zstd level. Zero selects the default.
	CompressionLevel int

	// ChunkSize is the MCAP chunk threshold, in bytes.
	ChunkSize int

	// BatchMessages and BatchBytes bound SQLite write transactions.
	BatchMessages int
	BatchBytes    int

	// ROSDistro is recorded by writers that store it.
	ROSDistro string

	// Logger, if not nil, receives diagnostics.
	Logger logging.L
}

// CompressMessages returns true if payloads are compressed individually.
func (o *Options) CompressMessages() bool {
	return o.CompressionMode == bag.CompressionMessage && o.CompressionFormat == bag.CompressionFormatZstd
}

// CompressFiles returns true if whole storage units are compressed.
func (o *Options) CompressFiles() bool {
	return o.CompressionMode == bag.CompressionFile && o.CompressionFormat == bag.CompressionFormatZstd
}

// WithEmbedded returns a copy of o whose compression settings are filled in
// from md when o does not specify any.
func (o Options) WithEmbedded(md *bag.Metadata) Options {
	if o.CompressionMode == bag.CompressionNone && md != nil {
		o.CompressionMode, o.CompressionFormat = md.CompressionMode, md.CompressionFormat
	}
	return o
}

// Stats are message statistics of a storage file.
type Stats struct {
	// MessageCount is the total number of messages.
	MessageCount int64
	// Counts maps connection ID to message count.
	Counts map[int]int64

	// StartTime and EndTime are the smallest and largest timestamps. They are
	// zero if MessageCount is zero.
	StartTime, EndTime int64
}

// NewStats returns an empty Stats.
func NewStats() *Stats {
	return &Stats{
		Counts:    make(map[int]int64),
		StartTime: math.MaxInt64,
		EndTime:   math.MinInt64,
	}
}

// Record accounts for a single message.
func (s *Stats) Record(connID int, ts int64) { s.Add(connID, 1, ts, ts) }

// Add accounts for count messages on connID spanning [start, end].
func (s *Stats) Add(connID int, count, start, end int64) {
	if count <= 0 {
		return
	}
	s.Counts[connID] += count
	s.MessageCount += count
	if start < s.StartTime {
		s.StartTime = start
	}
	if end > s.EndTime {
		s.EndTime = end
	}
}

// Normalize zeroes the time range of an empty Stats. It returns s.
func (s *Stats) Normalize() *Stats {
	if s.MessageCount == 0 {
		s.StartTime, s.EndTime = 0, 0
	}
	return s
}
