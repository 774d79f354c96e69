// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mcap

import (
	"bytes"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"
	"github.com/danjacques/gorosbag/support/logging"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// Reader reads an MCAP storage file.
//
// The summary section answers metadata queries and directs iteration to the
// chunks that can hold selected messages. Files without a summary are read
// by scanning the data section.
type Reader struct {
	path string
	opts storage.Options
	log  logging.L

	fd   *os.File
	size int64

	header          headerRecord
	schemas         map[uint16]schemaRecord
	channels        map[uint16]channelRecord
	conns           []bag.Connection
	stats           *statisticsRecord
	chunkIndexes    []chunkIndexRecord
	metadataIndexes []metadataIndexRecord
	embedded        *bag.Metadata

	// linear is true if messages must be found by scanning the data section.
	linear bool
	// dataEnd is the offset at which the data section scan stops.
	dataEnd int64

	comp    *storage.Compressor
	cursors map[storage.Cursor]struct{}
}

var _ storage.Reader = (*Reader)(nil)

// Open opens the MCAP storage file at path.
//
// A missing or corrupt magic, a truncated footer or a summary checksum
// mismatch yield a bag.KindStorage error.
func Open(path string, opts storage.Options) (*Reader, error) {
	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bag.NewError(bag.KindBagNotFound, path, err)
		}
		return nil, bag.NewError(bag.KindStorage, path, err)
	}
	defer func() {
		if fd != nil {
			_ = fd.Close()
		}
	}()

	st, err := fd.Stat()
	if err != nil {
		return nil, bag.NewError(bag.KindStorage, path, err)
	}

	r := Reader{
		path:     path,
		log:      logging.Must(opts.Logger),
		fd:       fd,
		size:     st.Size(),
		schemas:  make(map[uint16]schemaRecord),
		channels: make(map[uint16]channelRecord),
		cursors:  make(map[storage.Cursor]struct{}),
	}
	if err := r.load(); err != nil {
		return nil, bag.NewError(bag.KindStorage, path, err)
	}

	r.opts = opts.WithEmbedded(r.embedded)
	r.comp = storage.NewCompressor(0)
	r.buildConnections()

	fd = nil // Owned by r.
	return &r, nil
}

func (r *Reader) readAt(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > r.size {
		return nil, errors.Errorf("range [%d, %d) is outside of the file (%d bytes)", off, off+n, r.size)
	}
	buf := make([]byte, n)
	if _, err := r.fd.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// readRecordAt reads the complete record at off, which must have opcode op.
func (r *Reader) readRecordAt(off int64, op opcode) ([]byte, error) {
	prefix, err := r.readAt(off, recordPrefixSize)
	if err != nil {
		return nil, err
	}
	var rp recordPrefix
	if err := struc.Unpack(bytes.NewReader(prefix), &rp); err != nil {
		return nil, err
	}
	if opcode(rp.Opcode) != op {
		return nil, errors.Errorf("expected record 0x%02X at offset %d, found 0x%02X", op, off, rp.Opcode)
	}
	if rp.Length > uint64(r.size) {
		return nil, errors.Errorf("record at offset %d is truncated", off)
	}
	return r.readAt(off+recordPrefixSize, int64(rp.Length))
}

func (r *Reader) load() error {
	minSize := int64(len(Magic) + recordPrefixSize + tailSize)
	if r.size < minSize {
		return errors.Errorf("file is truncated (%d bytes)", r.size)
	}

	lead, err := r.readAt(0, int64(len(Magic)))
	if err != nil {
		return err
	}
	if string(lead) != Magic {
		return errors.New("invalid leading magic")
	}

	tail, err := r.readAt(r.size-int64(tailSize), int64(tailSize))
	if err != nil {
		return err
	}
	if string(tail[footerSize:]) != Magic {
		return errors.New("invalid trailing magic; file may be truncated")
	}
	var f footer
	if err := struc.Unpack(bytes.NewReader(tail[:footerSize]), &f); err != nil {
		return errors.Wrap(err, "parsing footer")
	}
	if opcode(f.Opcode) != opFooter || f.Length != footerSize-recordPrefixSize {
		return errors.New("invalid footer record")
	}

	body, err := r.readRecordAt(int64(len(Magic)), opHeader)
	if err != nil {
		return errors.Wrap(err, "reading header")
	}
	if r.header, err = parseHeader(body); err != nil {
		return errors.Wrap(err, "parsing header")
	}

	footerStart := r.size - int64(tailSize)
	if f.SummaryStart == 0 {
		r.linear = true
		r.dataEnd = footerStart
		return r.scanSummary()
	}
	if int64(f.SummaryStart) < int64(len(Magic)) || int64(f.SummaryStart) > footerStart {
		return errors.Errorf("summary start %d is outside of the file", f.SummaryStart)
	}
	r.dataEnd = int64(f.SummaryStart)

	// The summary CRC covers everything from the summary start through the
	// footer's summary offset field.
	summary, err := r.readAt(int64(f.SummaryStart), footerStart-int64(f.SummaryStart)+footerSize-4)
	if err != nil {
		return errors.Wrap(err, "reading summary")
	}
	if f.SummaryCRC != 0 {
		if crc := crc32.ChecksumIEEE(summary); crc != f.SummaryCRC {
			return errors.Errorf("summary CRC mismatch (0x%08X != 0x%08X)", crc, f.SummaryCRC)
		}
	}

	end := footerStart
	if f.SummaryOffsetStart != 0 {
		end = int64(f.SummaryOffsetStart)
	}
	if end < int64(f.SummaryStart) || end > footerStart {
		return errors.Errorf("summary offset start %d is invalid", f.SummaryOffsetStart)
	}
	if err := r.parseSummary(summary[:end-int64(f.SummaryStart)]); err != nil {
		return errors.Wrap(err, "parsing summary")
	}

	if err := r.loadEmbeddedMetadata(); err != nil {
		r.log.Warnf("Ignoring embedded metadata in %q: %s", r.path, err)
		r.embedded = nil
	}

	// Messages outside of chunks are only reachable by scanning.
	if len(r.chunkIndexes) == 0 && (r.stats == nil || r.stats.MessageCount > 0) {
		r.linear = true
	}
	return nil
}

func (r *Reader) parseSummary(buf []byte) error {
	it := newRecordIter(buf)
	for {
		op, body, _, err := it.next()
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return err
		}

		switch op {
		case opSchema:
			s, err := parseSchema(body)
			if err != nil {
				return err
			}
			r.schemas[s.ID] = s

		case opChannel:
			c, err := parseChannel(body)
			if err != nil {
				return err
			}
			r.channels[c.ID] = c

		case opStatistics:
			s, err := parseStatistics(body)
			if err != nil {
				return err
			}
			r.stats = &s

		case opChunkIndex:
			ci, err := parseChunkIndex(body)
			if err != nil {
				return err
			}
			r.chunkIndexes = append(r.chunkIndexes, ci)

		case opMetadataIndex:
			mi, err := parseMetadataIndex(body)
			if err != nil {
				return err
			}
			r.metadataIndexes = append(r.metadataIndexes, mi)

		default:
			// Attachment indexes and unknown records are not used.
		}
	}
}

func (r *Reader) loadEmbeddedMetadata() error {
	for _, mi := range r.metadataIndexes {
		if mi.Name != metadataName {
			continue
		}
		body, err := r.readRecordAt(int64(mi.Offset), opMetadata)
		if err != nil {
			return err
		}
		m, err := parseMetadata(body)
		if err != nil {
			return err
		}
		return r.setEmbedded(m)
	}
	return nil
}

func (r *Reader) setEmbedded(m metadataRecord) error {
	text, ok := m.Metadata[serializedMetadata]
	if !ok {
		return nil
	}
	md, err := bag.UnmarshalMetadata([]byte(text))
	if err != nil {
		return err
	}
	r.embedded = md
	return nil
}

func (r *Reader) buildConnections() {
	ids := make([]int, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	r.conns = make([]bag.Connection, 0, len(ids))
	for _, id := range ids {
		ch := r.channels[uint16(id)]
		conn := bag.Connection{
			ID:                  id,
			Topic:               ch.Topic,
			SerializationFormat: ch.MessageEncoding,
			OfferedQoSProfiles:  ch.Metadata[channelQoSKey],
			TypeDescriptionHash: ch.Metadata[channelTypeHashKey],
		}
		if s, ok := r.schemas[ch.SchemaID]; ok {
			conn.MessageType = s.Name
			if s.Encoding == bag.DefinitionEncoding {
				conn.MessageDefinition = string(s.Data)
			}
		}
		r.conns = append(r.conns, conn)
	}
}

// Path implements storage.Reader.
func (r *Reader) Path() string { return r.path }

// Profile returns the profile recorded in the file's header.
func (r *Reader) Profile() string { return r.header.Profile }

// Connections implements storage.Reader.
func (r *Reader) Connections() []bag.Connection { return r.conns }

// EmbeddedMetadata implements storage.Reader.
func (r *Reader) EmbeddedMetadata() (*bag.Metadata, bool) { return r.embedded, r.embedded != nil }

// Stats implements storage.Reader.
//
// Statistics come from the summary's statistics record. Without one, they
// are counted by reading every message.
func (r *Reader) Stats() (*storage.Stats, error) {
	if r.fd == nil {
		return nil, bag.NewError(bag.KindUsage, r.path, bag.ErrClosed)
	}

	st := storage.NewStats()
	if s := r.stats; s != nil {
		for ch, n := range s.ChannelMessageCounts {
			st.Add(int(ch), int64(n), int64(s.Start), int64(s.End))
		}
		// Counts may be absent from the map; the total is authoritative.
		st.MessageCount = int64(s.MessageCount)
		if st.MessageCount > 0 {
			st.StartTime, st.EndTime = int64(s.Start), int64(s.End)
		}
		return st.Normalize(), nil
	}

	c, err := r.Messages(bag.Filter{})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	for {
		msg, err := c.Next()
		switch err {
		case nil:
			st.Record(msg.ConnectionID, msg.Timestamp)
		case io.EOF:
			return st.Normalize(), nil
		default:
			r.log.Warnf("Skipping unreadable message while counting %q: %s", r.path, err)
		}
	}
}

// Messages implements storage.Reader.
func (r *Reader) Messages(f bag.Filter) (storage.Cursor, error) {
	if r.fd == nil {
		return nil, bag.NewError(bag.KindUsage, r.path, bag.ErrClosed)
	}

	q := query{filter: f, channels: make(map[uint16]struct{})}
	for id, ch := range r.channels {
		if f.MatchesTopic(ch.Topic) {
			q.channels[id] = struct{}{}
		}
	}
	if f.Empty() || len(q.channels) == 0 {
		return &sliceCursor{}, nil
	}

	var c storage.Cursor
	if r.linear {
		c = r.scanMessages(&q)
	} else {
		c = r.indexedMessages(&q)
	}
	r.cursors[c] = struct{}{}
	return c, nil
}

// Close implements storage.Reader.
func (r *Reader) Close() error {
	if r.fd == nil {
		return nil
	}

	for c := range r.cursors {
		_ = c.Close()
	}
	r.comp.Close()

	err := r.fd.Close()
	r.fd = nil
	if err != nil {
		return bag.NewError(bag.KindStorage, r.path, err)
	}
	return nil
}

func (r *Reader) forgetCursor(c storage.Cursor) { delete(r.cursors, c) }

// query is a compiled message filter.
type query struct {
	filter   bag.Filter
	channels map[uint16]struct{}
}

func (q *query) matches(ch uint16, ts int64) bool {
	if _, ok := q.channels[ch]; !ok {
		return false
	}
	return q.filter.ContainsTime(ts)
}

// wantsChunk returns true if the chunk described by ci may hold messages
// selected by q.
func (q *query) wantsChunk(ci *chunkIndexRecord) bool {
	if !q.filter.Overlaps(int64(ci.Start), int64(ci.End)) {
		return false
	}
	if len(ci.MessageIndexOffsets) == 0 {
		return true
	}
	for ch := range ci.MessageIndexOffsets {
		if _, ok := q.channels[ch]; ok {
			return true
		}
	}
	return false
}

// toMessage converts a message record into a bag.Message, decompressing its
// payload when message compression is in effect.
func (r *Reader) toMessage(m *messageRecord) (*bag.Message, error) {
	ch := r.channels[m.Channel]
	msg := bag.Message{
		ConnectionID: int(m.Channel),
		Topic:        ch.Topic,
		Timestamp:    int64(m.LogTime),
		Data:         m.Data,
		StoredSize:   len(m.Data),
	}
	if r.opts.CompressMessages() {
		data, err := r.comp.Decompress(nil, m.Data)
		if err != nil {
			readErrors.WithLabelValues("compression").Inc()
			return nil, errors.Wrapf(err, "message on %q at %d", msg.Topic, msg.Timestamp)
		}
		msg.Data = data
	}
	if msg.Data == nil {
		msg.Data = []byte{}
	}
	messagesRead.Inc()
	return &msg, nil
}

// decodeChunk returns the verified, uncompressed records of a chunk.
func (r *Reader) decodeChunk(body []byte) (*chunkRecord, []byte, error) {
	c, err := parseChunk(body)
	if err != nil {
		return nil, nil, bag.NewError(bag.KindStorage, r.path, errors.Wrap(err, "parsing chunk"))
	}

	records := c.Records
	switch c.Compression {
	case "":
	case compressionZstd:
		// UncompressedSize is unchecked until it is compared below.
		if records, err = r.comp.Decompress(nil, c.Records); err != nil {
			return nil, nil, errors.Wrap(err, "decompressing chunk")
		}
	default:
		return nil, nil, bag.Errorf(bag.KindCompression, r.path, "unsupported chunk compression %q", c.Compression)
	}

	if uint64(len(records)) != c.UncompressedSize {
		return nil, nil, bag.Errorf(bag.KindStorage, r.path, "chunk size mismatch (%d != %d)",
			len(records), c.UncompressedSize)
	}
	if c.UncompressedCRC != 0 {
		if crc := crc32.ChecksumIEEE(records); crc != c.UncompressedCRC {
			return nil, nil, bag.Errorf(bag.KindStorage, r.path, "chunk CRC mismatch (0x%08X != 0x%08X)",
				crc, c.UncompressedCRC)
		}
	}
	return &c, records, nil
}
