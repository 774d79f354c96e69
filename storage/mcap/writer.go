// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mcap

import (
	"bufio"
	"hash"
	"hash/crc32"
	"math"
	"os"
	"sort"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"
	"github.com/danjacques/gorosbag/support/logging"

	"github.com/pkg/errors"
)

// DefaultChunkSize is the default uncompressed chunk threshold.
const DefaultChunkSize = 768 * 1024

// countingWriter tracks the offset and running CRC of everything written to
// a file.
type countingWriter struct {
	bw     *bufio.Writer
	crc    hash.Hash32
	offset int64
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	n, err := cw.bw.Write(b)
	_, _ = cw.crc.Write(b[:n])
	cw.offset += int64(n)
	return n, err
}

// resetCRC starts a new CRC, returning the previous one.
func (cw *countingWriter) resetCRC() uint32 {
	v := cw.crc.Sum32()
	cw.crc.Reset()
	return v
}

// openChunk accumulates records before they are written as a chunk.
type openChunk struct {
	buf        recordBuf
	start, end uint64
	indexes    map[uint16][]indexEntry
}

func (c *openChunk) reset() {
	c.buf.Reset()
	c.start, c.end = math.MaxUint64, 0
	c.indexes = make(map[uint16][]indexEntry)
}

func (c *openChunk) empty() bool { return c.buf.Len() == 0 }

// Writer creates an MCAP storage file.
type Writer struct {
	path string
	opts storage.Options
	log  logging.L

	fd *os.File
	w  *countingWriter

	comp *storage.Compressor

	schemas  []schemaRecord
	schemaID map[string]uint16
	channels []channelRecord
	sequence map[uint16]uint32

	chunk        openChunk
	chunkIndexes []chunkIndexRecord
	stats        statisticsRecord

	metadataIndexes []metadataIndexRecord

	finalized bool
	result    *storage.Stats
}

var _ storage.Writer = (*Writer)(nil)

// Create creates a new MCAP storage file at path.
func Create(path string, opts storage.Options) (*Writer, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, bag.Errorf(bag.KindAlreadyExists, path, "storage file exists")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, bag.NewError(bag.KindStorage, path, err)
	}
	defer func() {
		if fd != nil {
			_ = fd.Close()
		}
	}()

	w := Writer{
		path:     path,
		opts:     opts,
		log:      logging.Must(opts.Logger),
		fd:       fd,
		w:        &countingWriter{bw: bufio.NewWriterSize(fd, opts.ChunkSize), crc: crc32.NewIEEE()},
		schemaID: make(map[string]uint16),
		sequence: make(map[uint16]uint32),
		stats: statisticsRecord{
			statisticsPrefix:     statisticsPrefix{Start: math.MaxUint64},
			ChannelMessageCounts: make(map[uint16]uint64),
		},
	}
	w.chunk.reset()
	if opts.CompressMessages() || opts.CompressFiles() {
		w.comp = storage.NewCompressor(opts.CompressionLevel)
	}

	if _, err := w.w.Write([]byte(Magic)); err != nil {
		return nil, bag.NewError(bag.KindStorage, path, err)
	}
	if err := writeRecord(w.w, opHeader, &headerRecord{Profile: profileROS2, Library: libraryName}); err != nil {
		return nil, bag.NewError(bag.KindStorage, path, err)
	}

	fd = nil // Owned by w.
	return &w, nil
}

// Path implements storage.Writer.
func (w *Writer) Path() string { return w.path }

// Size implements storage.Writer.
func (w *Writer) Size() int64 { return w.w.offset + int64(w.chunk.buf.Len()) }

func (w *Writer) checkOpen() error {
	if w.fd == nil || w.finalized {
		return bag.NewError(bag.KindUsage, w.path, bag.ErrClosed)
	}
	return nil
}

func (w *Writer) storageError(err error, op string) error {
	return bag.NewError(bag.KindStorage, w.path, errors.Wrap(err, op))
}

// AddConnection implements storage.Writer.
//
// The connection becomes a channel, and its type a schema.
func (w *Writer) AddConnection(conn bag.Connection) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if conn.ID <= 0 || conn.ID > math.MaxUint16 {
		return bag.Errorf(bag.KindUsage, w.path, "connection ID %d is out of range", conn.ID)
	}
	for _, ch := range w.channels {
		if int(ch.ID) == conn.ID {
			return bag.Errorf(bag.KindUsage, w.path, "connection %d already registered", conn.ID)
		}
	}

	sid, ok := w.schemaID[conn.MessageType]
	if !ok {
		sid = uint16(len(w.schemas) + 1)
		s := schemaRecord{
			ID:       sid,
			Name:     conn.MessageType,
			Encoding: bag.DefinitionEncoding,
			Data:     []byte(conn.MessageDefinition),
		}
		if err := writeRecord(w.w, opSchema, &s); err != nil {
			return w.storageError(err, "writing schema")
		}
		w.schemas = append(w.schemas, s)
		w.schemaID[conn.MessageType] = sid
	}

	ch := channelRecord{
		ID:              uint16(conn.ID),
		SchemaID:        sid,
		Topic:           conn.Topic,
		MessageEncoding: conn.SerializationFormat,
		Metadata: map[string]string{
			channelQoSKey:      conn.OfferedQoSProfiles,
			channelTypeHashKey: conn.TypeDescriptionHash,
		},
	}
	if err := writeRecord(w.w, opChannel, &ch); err != nil {
		return w.storageError(err, "writing channel")
	}
	w.channels = append(w.channels, ch)
	return nil
}

func (w *Writer) hasChannel(id int) bool {
	for _, ch := range w.channels {
		if int(ch.ID) == id {
			return true
		}
	}
	return false
}

// WriteMessage implements storage.Writer.
func (w *Writer) WriteMessage(connID int, ts int64, data []byte) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if !w.hasChannel(connID) {
		return bag.Errorf(bag.KindUsage, w.path, "unknown connection %d", connID)
	}
	// MCAP log times are unsigned.
	if ts < 0 {
		return bag.Errorf(bag.KindUsage, w.path, "timestamp %d is before the epoch", ts)
	}

	if w.opts.CompressMessages() {
		var err error
		if data, err = w.comp.Compress(nil, data); err != nil {
			return bag.NewError(bag.KindCompression, w.path, err)
		}
	}

	ch := uint16(connID)
	lt := uint64(ts)
	rec := messageRecord{
		messagePrefix: messagePrefix{
			Channel:     ch,
			Sequence:    w.sequence[ch],
			LogTime:     lt,
			PublishTime: lt,
		},
		Data: data,
	}
	w.sequence[ch]++

	c := &w.chunk
	c.indexes[ch] = append(c.indexes[ch], indexEntry{Timestamp: lt, Offset: uint64(c.buf.Len())})
	appendRecord(&c.buf, opMessage, &rec)
	if c.buf.err != nil {
		return w.storageError(c.buf.err, "encoding message")
	}
	if lt < c.start {
		c.start = lt
	}
	if lt > c.end {
		c.end = lt
	}

	w.stats.MessageCount++
	w.stats.ChannelMessageCounts[ch]++
	if lt < w.stats.Start {
		w.stats.Start = lt
	}
	if lt > w.stats.End {
		w.stats.End = lt
	}
	messagesWritten.Inc()

	if c.buf.Len() >= w.opts.ChunkSize {
		return w.flushChunk()
	}
	return nil
}

// flushChunk writes the open chunk and its message indexes.
func (w *Writer) flushChunk() error {
	c := &w.chunk
	if c.empty() {
		return nil
	}

	records := c.buf.Bytes()
	rec := chunkRecord{
		chunkPrefix: chunkPrefix{
			Start:            c.start,
			End:              c.end,
			UncompressedSize: uint64(len(records)),
			UncompressedCRC:  crc32.ChecksumIEEE(records),
		},
		Records: records,
	}
	if w.opts.CompressFiles() {
		var err error
		if rec.Records, err = w.comp.Compress(nil, records); err != nil {
			return bag.NewError(bag.KindCompression, w.path, err)
		}
		rec.Compression = compressionZstd
	}

	chunkStart := w.w.offset
	if err := writeRecord(w.w, opChunk, &rec); err != nil {
		return w.storageError(err, "writing chunk")
	}
	ci := chunkIndexRecord{
		chunkIndexPrefix: chunkIndexPrefix{
			Start:            c.start,
			End:              c.end,
			ChunkStartOffset: uint64(chunkStart),
			ChunkLength:      uint64(w.w.offset - chunkStart),
		},
		MessageIndexOffsets: make(map[uint16]uint64, len(c.indexes)),
		Compression:         rec.Compression,
		CompressedSize:      uint64(len(rec.Records)),
		UncompressedSize:    rec.UncompressedSize,
	}

	ids := make([]int, 0, len(c.indexes))
	for id := range c.indexes {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	indexStart := w.w.offset
	for _, id := range ids {
		ch := uint16(id)
		ci.MessageIndexOffsets[ch] = uint64(w.w.offset)
		if err := writeRecord(w.w, opMessageIndex, &messageIndexRecord{Channel: ch, Entries: c.indexes[ch]}); err != nil {
			return w.storageError(err, "writing message index")
		}
	}
	ci.MessageIndexLength = uint64(w.w.offset - indexStart)

	w.chunkIndexes = append(w.chunkIndexes, ci)
	chunksWritten.Inc()
	bytesWritten.Add(float64(ci.ChunkLength))
	w.log.Debugf("Wrote chunk #%d to %q (%d -> %d bytes).",
		len(w.chunkIndexes), w.path, rec.UncompressedSize, ci.CompressedSize)

	c.reset()
	return nil
}

// writeGroup writes records of a single kind, returning their summary offset.
func (w *Writer) writeGroup(op opcode, recs []encoder) (*summaryOffset, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	start := w.w.offset
	for _, rec := range recs {
		if err := writeRecord(w.w, op, rec); err != nil {
			return nil, err
		}
	}
	return &summaryOffset{
		GroupOpcode: uint8(op),
		GroupStart:  uint64(start),
		GroupLength: uint64(w.w.offset - start),
	}, nil
}

// Finalize implements storage.Writer.
//
// md is stored in a "rosbag2" metadata record.
func (w *Writer) Finalize(md *bag.Metadata) (*storage.Stats, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	if err := w.finish(md); err != nil {
		return nil, err
	}
	return w.result, nil
}

func (w *Writer) finish(md *bag.Metadata) error {
	if err := w.flushChunk(); err != nil {
		return err
	}

	if md != nil {
		text, err := md.Marshal()
		if err != nil {
			return errors.Wrap(err, "rendering metadata")
		}

		start := w.w.offset
		if err := writeRecord(w.w, opMetadata, &metadataRecord{
			Name:     metadataName,
			Metadata: map[string]string{serializedMetadata: string(text)},
		}); err != nil {
			return w.storageError(err, "writing metadata")
		}
		w.metadataIndexes = append(w.metadataIndexes, metadataIndexRecord{
			Offset: uint64(start),
			Length: uint64(w.w.offset - start),
			Name:   metadataName,
		})
	}

	// Data section.
	dataCRC := w.w.resetCRC()
	var dataEnd recordBuf
	dataEnd.pack(&recordPrefix{Opcode: uint8(opDataEnd), Length: 4})
	dataEnd.u32(dataCRC)
	if _, err := w.w.Write(dataEnd.Bytes()); err != nil {
		return w.storageError(err, "writing data end")
	}

	// Summary section.
	summaryStart := w.w.offset
	_ = w.w.resetCRC()

	if w.stats.MessageCount == 0 {
		w.stats.Start = 0
	}
	w.stats.SchemaCount = uint16(len(w.schemas))
	w.stats.ChannelCount = uint32(len(w.channels))
	w.stats.MetadataCount = uint32(len(w.metadataIndexes))
	w.stats.ChunkCount = uint32(len(w.chunkIndexes))

	groups := []struct {
		op   opcode
		recs []encoder
	}{
		{opSchema, make([]encoder, 0, len(w.schemas))},
		{opChannel, make([]encoder, 0, len(w.channels))},
		{opStatistics, []encoder{&w.stats}},
		{opChunkIndex, make([]encoder, 0, len(w.chunkIndexes))},
		{opMetadataIndex, make([]encoder, 0, len(w.metadataIndexes))},
	}
	for i := range w.schemas {
		groups[0].recs = append(groups[0].recs, &w.schemas[i])
	}
	for i := range w.channels {
		groups[1].recs = append(groups[1].recs, &w.channels[i])
	}
	for i := range w.chunkIndexes {
		groups[3].recs = append(groups[3].recs, &w.chunkIndexes[i])
	}
	for i := range w.metadataIndexes {
		groups[4].recs = append(groups[4].recs, &w.metadataIndexes[i])
	}

	var offsets []*summaryOffset
	for _, g := range groups {
		so, err := w.writeGroup(g.op, g.recs)
		if err != nil {
			return w.storageError(err, "writing summary")
		}
		if so != nil {
			offsets = append(offsets, so)
		}
	}

	summaryOffsetStart := w.w.offset
	for _, so := range offsets {
		var b recordBuf
		b.pack(so)
		if err := writeRecordBody(w.w, opSummaryOffset, &b); err != nil {
			return w.storageError(err, "writing summary offset")
		}
	}

	// The summary CRC covers the footer up to its own CRC field.
	f := footer{
		Opcode:             uint8(opFooter),
		Length:             footerSize - recordPrefixSize,
		SummaryStart:       uint64(summaryStart),
		SummaryOffsetStart: uint64(summaryOffsetStart),
	}
	var fb recordBuf
	fb.pack(&f)
	if fb.err != nil {
		return w.storageError(fb.err, "encoding footer")
	}
	head := fb.Bytes()[:footerSize-4]
	_, _ = w.w.crc.Write(head)
	f.SummaryCRC = w.w.crc.Sum32()

	fb.Reset()
	fb.pack(&f)
	fb.WriteString(Magic)
	if _, err := w.w.bw.Write(fb.Bytes()); err != nil {
		return w.storageError(err, "writing footer")
	}
	if err := w.w.bw.Flush(); err != nil {
		return w.storageError(err, "flushing file")
	}

	w.finalized = true
	w.result = w.resultStats()
	return nil
}

// writeRecordBody writes a record whose body has already been encoded.
func writeRecordBody(cw *countingWriter, op opcode, body *recordBuf) error {
	var b recordBuf
	b.pack(&recordPrefix{Opcode: uint8(op), Length: uint64(body.Len())})
	b.Write(body.Bytes())
	if body.err != nil {
		return body.err
	}
	data, err := b.body()
	if err != nil {
		return err
	}
	_, err = cw.Write(data)
	return err
}

func (w *Writer) resultStats() *storage.Stats {
	st := storage.NewStats()
	for ch, n := range w.stats.ChannelMessageCounts {
		st.Counts[int(ch)] = int64(n)
	}
	st.MessageCount = int64(w.stats.MessageCount)
	st.StartTime, st.EndTime = int64(w.stats.Start), int64(w.stats.End)
	return st.Normalize()
}

// Close implements storage.Writer.
//
// If the file has not been finalized, it is finalized without embedded
// metadata.
func (w *Writer) Close() error {
	if w.fd == nil {
		return nil
	}

	var finishErr error
	if !w.finalized {
		finishErr = w.finish(nil)
	}
	if w.comp != nil {
		w.comp.Close()
	}

	closeErr := w.fd.Close()
	w.fd = nil
	if finishErr != nil {
		return finishErr
	}
	if closeErr != nil {
		return w.storageError(closeErr, "closing file")
	}
	return nil
}
