// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bag

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// SerializationCDR is the only supported message serialization format.
const SerializationCDR = "cdr"

// DefinitionEncoding is the encoding of Connection.MessageDefinition.
const DefinitionEncoding = "ros2msg"

// StorageID identifies a storage backend.
type StorageID string

// Storage backends.
const (
	StorageSQLite3 StorageID = "sqlite3"
	StorageMCAP    StorageID = "mcap"
)

// StorageIDs lists the supported storage backends.
var StorageIDs = []StorageID{StorageSQLite3, StorageMCAP}

// Ext returns the file extension of the backend's storage files.
func (s StorageID) Ext() string {
	switch s {
	case StorageSQLite3:
		return ".db3"
	case StorageMCAP:
		return ".mcap"
	default:
		return ""
	}
}

// ParseStorageID parses a storage identifier.
func ParseStorageID(v string) (StorageID, error) {
	switch StorageID(strings.ToLower(v)) {
	case StorageSQLite3, "sqlite", "db3":
		return StorageSQLite3, nil
	case StorageMCAP:
		return StorageMCAP, nil
	default:
		return "", errors.Errorf("unknown storage identifier %q", v)
	}
}

// StorageForPath returns the backend of a storage file, judged by its
// extension. A trailing ".zstd" is ignored.
func StorageForPath(path string) (StorageID, bool) {
	path = strings.TrimSuffix(path, CompressedFileExt)
	for _, id := range StorageIDs {
		if strings.HasSuffix(path, id.Ext()) {
			return id, true
		}
	}
	return "", false
}

// CompressedFileExt is appended to storage files compressed as a whole.
const CompressedFileExt = ".zstd"

// CompressionFormat is a compression algorithm.
type CompressionFormat string

// Compression formats.
const (
	CompressionFormatNone CompressionFormat = ""
	CompressionFormatZstd CompressionFormat = "zstd"
)

// ParseCompressionFormat parses a compression format.
func ParseCompressionFormat(v string) (CompressionFormat, error) {
	switch strings.ToLower(v) {
	case "", "none":
		return CompressionFormatNone, nil
	case "zstd":
		return CompressionFormatZstd, nil
	default:
		return "", errors.Errorf("unsupported compression format %q", v)
	}
}

// CompressionMode is the unit that compression is applied to.
type CompressionMode string

// Compression modes.
const (
	// CompressionNone stores data uncompressed.
	CompressionNone CompressionMode = ""
	// CompressionMessage compresses every message payload independently.
	CompressionMessage CompressionMode = "message"
	// CompressionFile compresses whole storage units: MCAP chunks, or an
	// entire SQLite file once it is complete.
	CompressionFile CompressionMode = "file"
)

// CompressionModes lists the supported compression modes.
var CompressionModes = []CompressionMode{CompressionNone, CompressionMessage, CompressionFile}

func (m CompressionMode) String() string {
	if m == CompressionNone {
		return "none"
	}
	return string(m)
}

// ParseCompressionMode parses a compression mode, case-insensitively.
func ParseCompressionMode(v string) (CompressionMode, error) {
	switch strings.ToLower(v) {
	case "", "none":
		return CompressionNone, nil
	case "message":
		return CompressionMessage, nil
	case "file", "storage":
		return CompressionFile, nil
	default:
		return "", errors.Errorf("unsupported compression mode %q", v)
	}
}

// Connection binds a topic to a message type.
type Connection struct {
	// ID is unique within a bag.
	ID int
	// Topic is the topic name.
	Topic string
	// MessageType is the fully qualified type name, e.g. "std_msgs/msg/Int32".
	MessageType string
	// SerializationFormat is the payload encoding, always "cdr".
	SerializationFormat string
	// OfferedQoSProfiles is opaque QoS data, passed through unchanged.
	OfferedQoSProfiles string
	// TypeDescriptionHash is an opaque type hash, passed through unchanged.
	TypeDescriptionHash string
	// MessageDefinition is the "ros2msg" definition of MessageType, if known.
	MessageDefinition string
}

// TopicInfo is a Connection together with its message count.
type TopicInfo struct {
	Connection
	MessageCount int64
}

// Message is a single stored message.
type Message struct {
	// ConnectionID identifies the message's Connection.
	ConnectionID int
	// Topic is the Connection's topic.
	Topic string
	// Timestamp is the receive time in nanoseconds since the epoch.
	Timestamp int64
	// Data is the serialized, uncompressed payload.
	Data []byte
	// StoredSize is the number of bytes the payload occupies in storage when
	// message compression is in effect, or len(Data) otherwise.
	StoredSize int
}

// Filter selects messages.
//
// The zero value selects everything.
type Filter struct {
	// Topics, if not empty, restricts results to these topics.
	Topics []string

	// Start and End bound message timestamps, inclusively, when HasStart and
	// HasEnd are set.
	Start, End       int64
	HasStart, HasEnd bool
}

// WithStart returns a copy of f with an inclusive lower time bound.
func (f Filter) WithStart(ts int64) Filter {
	f.Start, f.HasStart = ts, true
	return f
}

// WithEnd returns a copy of f with an inclusive upper time bound.
func (f Filter) WithEnd(ts int64) Filter {
	f.End, f.HasEnd = ts, true
	return f
}

// WithTopics returns a copy of f restricted to topics.
func (f Filter) WithTopics(topics ...string) Filter {
	f.Topics = append([]string(nil), topics...)
	return f
}

// Bounds returns the inclusive time range of f, substituting the extremes of
// int64 for missing bounds.
func (f *Filter) Bounds() (lo, hi int64) {
	lo, hi = math.MinInt64, math.MaxInt64
	if f.HasStart {
		lo = f.Start
	}
	if f.HasEnd {
		hi = f.End
	}
	return
}

// ContainsTime returns true if ts lies within f's time range.
func (f *Filter) ContainsTime(ts int64) bool {
	lo, hi := f.Bounds()
	return ts >= lo && ts <= hi
}

// Overlaps returns true if the inclusive range [start, end] intersects f's
// time range.
func (f *Filter) Overlaps(start, end int64) bool {
	lo, hi := f.Bounds()
	return end >= lo && start <= hi
}

// MatchesTopic returns true if topic passes f's topic allow-list.
func (f *Filter) MatchesTopic(topic string) bool {
	if len(f.Topics) == 0 {
		return true
	}
	for _, t := range f.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Empty returns true if f has a time range that cannot contain anything.
func (f *Filter) Empty() bool {
	lo, hi := f.Bounds()
	return lo > hi
}
