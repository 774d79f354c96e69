// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bag

import (
	"math"
)

// MetadataBuilder constructs a Metadata incrementally while a bag is written.
type MetadataBuilder struct {
	meta Metadata

	topicIndex map[string]int
	connIndex  map[int]int

	minTime, maxTime int64

	// currentFile tracks the file being written, if any.
	currentFile *FileInfo
	fileMax     int64

	numBytes int64
}

// NewMetadataBuilder returns a builder for a bag stored in storage with the
// given compression settings.
func NewMetadataBuilder(storage StorageID, format CompressionFormat, mode CompressionMode) *MetadataBuilder {
	return &MetadataBuilder{
		meta: Metadata{
			Version:           LatestVersion,
			StorageIdentifier: storage,
			CompressionFormat: format,
			CompressionMode:   mode,
			ROSDistro:         DefaultROSDistro,
		},
		topicIndex: make(map[string]int),
		connIndex:  make(map[int]int),
		minTime:    math.MaxInt64,
		maxTime:    math.MinInt64,
	}
}

// SetCustomData records a custom data entry.
func (mb *MetadataBuilder) SetCustomData(key, value string) {
	if mb.meta.CustomData == nil {
		mb.meta.CustomData = make(map[string]string)
	}
	mb.meta.CustomData[key] = value
}

// SetROSDistro records the ROS distribution that wrote the bag.
func (mb *MetadataBuilder) SetROSDistro(distro string) { mb.meta.ROSDistro = distro }

// NumMessages returns the number of messages recorded so far.
func (mb *MetadataBuilder) NumMessages() int64 { return mb.meta.MessageCount }

// NumBytes returns the number of payload bytes recorded so far.
func (mb *MetadataBuilder) NumBytes() int64 { return mb.numBytes }

// Connection returns the connection registered for topic.
func (mb *MetadataBuilder) Connection(topic string) (*Connection, bool) {
	idx, ok := mb.topicIndex[topic]
	if !ok {
		return nil, false
	}
	return &mb.meta.Topics[idx].Connection, true
}

// Connections returns all registered connections in ID order.
func (mb *MetadataBuilder) Connections() []Connection { return mb.meta.Connections() }

// NextConnectionID returns the ID the next registered connection will get.
func (mb *MetadataBuilder) NextConnectionID() int { return len(mb.meta.Topics) + 1 }

// AddConnection registers conn. Its ID must be NextConnectionID.
func (mb *MetadataBuilder) AddConnection(conn Connection) {
	mb.topicIndex[conn.Topic] = len(mb.meta.Topics)
	mb.connIndex[conn.ID] = len(mb.meta.Topics)
	mb.meta.Topics = append(mb.meta.Topics, TopicInfo{Connection: conn})
}

// AddFile starts a new storage file. If a file is in progress, it is
// finished first.
func (mb *MetadataBuilder) AddFile(relPath string) {
	mb.finishFile()
	mb.meta.RelativeFilePaths = append(mb.meta.RelativeFilePaths, relPath)
	mb.currentFile = &FileInfo{
		Path:         relPath,
		StartingTime: math.MaxInt64,
	}
	mb.fileMax = math.MinInt64
}

// RenameCurrentFile changes the path of the file in progress.
func (mb *MetadataBuilder) RenameCurrentFile(relPath string) {
	if mb.currentFile == nil {
		return
	}
	mb.currentFile.Path = relPath
	mb.meta.RelativeFilePaths[len(mb.meta.RelativeFilePaths)-1] = relPath
}

// RecordMessage accounts for a message of size bytes on connection connID.
func (mb *MetadataBuilder) RecordMessage(connID int, ts int64, size int) {
	if idx, ok := mb.connIndex[connID]; ok {
		mb.meta.Topics[idx].MessageCount++
	}

	mb.meta.MessageCount++
	mb.numBytes += int64(size)
	if ts < mb.minTime {
		mb.minTime = ts
	}
	if ts > mb.maxTime {
		mb.maxTime = ts
	}

	if f := mb.currentFile; f != nil {
		f.MessageCount++
		if ts < f.StartingTime {
			f.StartingTime = ts
		}
		if ts > mb.fileMax {
			mb.fileMax = ts
		}
	}
}

// Build returns a snapshot of the Metadata recorded so far. The file in
// progress, if any, is included as if it were finished.
func (mb *MetadataBuilder) Build() *Metadata {
	md := mb.meta.Clone()
	if mb.currentFile != nil {
		md.Files = append(md.Files, mb.finishedFile())
	}

	if md.MessageCount > 0 {
		md.StartingTime = mb.minTime
		md.Duration = mb.maxTime - mb.minTime
	}
	return md
}

func (mb *MetadataBuilder) finishedFile() FileInfo {
	f := *mb.currentFile
	if f.MessageCount == 0 {
		f.StartingTime = 0
	} else {
		f.Duration = mb.fileMax - f.StartingTime
	}
	return f
}

func (mb *MetadataBuilder) finishFile() {
	if mb.currentFile == nil {
		return
	}
	mb.meta.Files = append(mb.meta.Files, mb.finishedFile())
	mb.currentFile = nil
}
