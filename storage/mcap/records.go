// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mcap

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/danjacques/gorosbag/support/byteslicereader"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// Magic begins and ends every MCAP file.
const Magic = "\x89MCAP0\r\n"

type opcode uint8

const (
	opHeader          opcode = 0x01
	opFooter          opcode = 0x02
	opSchema          opcode = 0x03
	opChannel         opcode = 0x04
	opMessage         opcode = 0x05
	opChunk           opcode = 0x06
	opMessageIndex    opcode = 0x07
	opChunkIndex      opcode = 0x08
	opAttachment      opcode = 0x09
	opAttachmentIndex opcode = 0x0A
	opStatistics      opcode = 0x0B
	opMetadata        opcode = 0x0C
	opMetadataIndex   opcode = 0x0D
	opSummaryOffset   opcode = 0x0E
	opDataEnd         opcode = 0x0F
)

const (
	// recordPrefixSize is the size of an opcode and a record length.
	recordPrefixSize = 1 + 8

	// footerSize is the size of a complete footer record.
	footerSize = recordPrefixSize + 8 + 8 + 4

	// tailSize is the size of the footer record and the trailing magic.
	tailSize = footerSize + len(Magic)
)

// Well-known field values written by ROS 2.
const (
	profileROS2        = "ros2"
	compressionZstd    = "zstd"
	metadataName       = "rosbag2"
	serializedMetadata = "serialized_metadata"
	channelQoSKey      = "offered_qos_profiles"
	channelTypeHashKey = "topic_type_hash"
	libraryName        = "gorosbag"
)

var le = binary.LittleEndian

// errMalformed is wrapped by parse errors.
var errMalformed = errors.New("malformed record")

// Fixed-layout record parts.
type (
	recordPrefix struct {
		Opcode uint8
		Length uint64 `struc:",little"`
	}

	messagePrefix struct {
		Channel     uint16 `struc:",little"`
		Sequence    uint32 `struc:",little"`
		LogTime     uint64 `struc:",little"`
		PublishTime uint64 `struc:",little"`
	}

	chunkPrefix struct {
		Start            uint64 `struc:",little"`
		End              uint64 `struc:",little"`
		UncompressedSize uint64 `struc:",little"`
		UncompressedCRC  uint32 `struc:",little"`
	}

	chunkIndexPrefix struct {
		Start            uint64 `struc:",little"`
		End              uint64 `struc:",little"`
		ChunkStartOffset uint64 `struc:",little"`
		ChunkLength      uint64 `struc:",little"`
	}

	statisticsPrefix struct {
		MessageCount    uint64 `struc:",little"`
		SchemaCount     uint16 `struc:",little"`
		ChannelCount    uint32 `struc:",little"`
		AttachmentCount uint32 `struc:",little"`
		MetadataCount   uint32 `struc:",little"`
		ChunkCount      uint32 `struc:",little"`
		Start           uint64 `struc:",little"`
		End             uint64 `struc:",little"`
	}

	summaryOffset struct {
		GroupOpcode uint8
		GroupStart  uint64 `struc:",little"`
		GroupLength uint64 `struc:",little"`
	}

	footer struct {
		Opcode             uint8
		Length             uint64 `struc:",little"`
		SummaryStart       uint64 `struc:",little"`
		SummaryOffsetStart uint64 `struc:",little"`
		SummaryCRC         uint32 `struc:",little"`
	}
)

// Variable-layout records.
type (
	headerRecord struct {
		Profile string
		Library string
	}

	schemaRecord struct {
		ID       uint16
		Name     string
		Encoding string
		Data     []byte
	}

	channelRecord struct {
		ID              uint16
		SchemaID        uint16
		Topic           string
		MessageEncoding string
		Metadata        map[string]string
	}

	messageRecord struct {
		messagePrefix
		Data []byte
	}

	chunkRecord struct {
		chunkPrefix
		Compression string
		Records     []byte
	}

	indexEntry struct {
		Timestamp uint64
		Offset    uint64
	}

	messageIndexRecord struct {
		Channel uint16
		Entries []indexEntry
	}

	chunkIndexRecord struct {
		chunkIndexPrefix
		MessageIndexOffsets map[uint16]uint64
		MessageIndexLength  uint64
		Compression         string
		CompressedSize      uint64
		UncompressedSize    uint64
	}

	statisticsRecord struct {
		statisticsPrefix
		ChannelMessageCounts map[uint16]uint64
	}

	metadataRecord struct {
		Name     string
		Metadata map[string]string
	}

	metadataIndexRecord struct {
		Offset uint64
		Length uint64
		Name   string
	}
)

// recordBuf builds a record body.
//
// The first error encountered is retained and reported by bytes.
type recordBuf struct {
	bytes.Buffer
	err error
}

func (b *recordBuf) pack(v interface{}) {
	if b.err == nil {
		b.err = struc.Pack(&b.Buffer, v)
	}
}

func (b *recordBuf) u16(v uint16) {
	var d [2]byte
	le.PutUint16(d[:], v)
	b.Write(d[:])
}

func (b *recordBuf) u32(v uint32) {
	var d [4]byte
	le.PutUint32(d[:], v)
	b.Write(d[:])
}

func (b *recordBuf) u64(v uint64) {
	var d [8]byte
	le.PutUint64(d[:], v)
	b.Write(d[:])
}

func (b *recordBuf) str(v string) {
	b.u32(uint32(len(v)))
	b.WriteString(v)
}

func (b *recordBuf) prefixed32(v []byte) {
	b.u32(uint32(len(v)))
	b.Write(v)
}

func (b *recordBuf) strMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var inner recordBuf
	for _, k := range keys {
		inner.str(k)
		inner.str(m[k])
	}
	b.prefixed32(inner.Bytes())
}

func (b *recordBuf) countMap(m map[uint16]uint64) {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)

	b.u32(uint32(len(keys) * (2 + 8)))
	for _, k := range keys {
		b.u16(uint16(k))
		b.u64(m[uint16(k)])
	}
}

func (b *recordBuf) body() ([]byte, error) { return b.Bytes(), b.err }

func (h *headerRecord) encode(b *recordBuf) {
	b.str(h.Profile)
	b.str(h.Library)
}

func (s *schemaRecord) encode(b *recordBuf) {
	b.u16(s.ID)
	b.str(s.Name)
	b.str(s.Encoding)
	b.prefixed32(s.Data)
}

func (c *channelRecord) encode(b *recordBuf) {
	b.u16(c.ID)
	b.u16(c.SchemaID)
	b.str(c.Topic)
	b.str(c.MessageEncoding)
	b.strMap(c.Metadata)
}

func (m *messageRecord) encode(b *recordBuf) {
	b.pack(&m.messagePrefix)
	b.Write(m.Data)
}

func (c *chunkRecord) encode(b *recordBuf) {
	b.pack(&c.chunkPrefix)
	b.str(c.Compression)
	b.u64(uint64(len(c.Records)))
	b.Write(c.Records)
}

func (mi *messageIndexRecord) encode(b *recordBuf) {
	b.u16(mi.Channel)
	b.u32(uint32(len(mi.Entries) * 16))
	for _, e := range mi.Entries {
		b.u64(e.Timestamp)
		b.u64(e.Offset)
	}
}

func (ci *chunkIndexRecord) encode(b *recordBuf) {
	b.pack(&ci.chunkIndexPrefix)
	b.countMap(ci.MessageIndexOffsets)
	b.u64(ci.MessageIndexLength)
	b.str(ci.Compression)
	b.u64(ci.CompressedSize)
	b.u64(ci.UncompressedSize)
}

func (s *statisticsRecord) encode(b *recordBuf) {
	b.pack(&s.statisticsPrefix)
	b.countMap(s.ChannelMessageCounts)
}

func (m *metadataRecord) encode(b *recordBuf) {
	b.str(m.Name)
	b.strMap(m.Metadata)
}

func (mi *metadataIndexRecord) encode(b *recordBuf) {
	b.u64(mi.Offset)
	b.u64(mi.Length)
	b.str(mi.Name)
}

// encoder is implemented by records that can be written.
type encoder interface {
	encode(b *recordBuf)
}

// appendRecord appends the complete record op/rec to b.
func appendRecord(b *recordBuf, op opcode, rec encoder) {
	var body recordBuf
	rec.encode(&body)
	if body.err != nil && b.err == nil {
		b.err = body.err
	}
	b.pack(&recordPrefix{Opcode: uint8(op), Length: uint64(body.Len())})
	b.Write(body.Bytes())
}

// writeRecord writes the complete record op/rec to w.
func writeRecord(w io.Writer, op opcode, rec encoder) error {
	var b recordBuf
	appendRecord(&b, op, rec)
	data, err := b.body()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// fieldReader parses record bodies.
//
// The first error encountered is retained; later reads return zero values.
type fieldReader struct {
	r   byteslicereader.R
	err error
}

func newFieldReader(buf []byte) *fieldReader {
	return &fieldReader{r: byteslicereader.R{Buffer: buf}}
}

func (fr *fieldReader) fail(err error) {
	if fr.err == nil && err != nil {
		fr.err = errors.Wrapf(errMalformed, "at offset %d: %s", fr.r.Offset(), err)
	}
}

func (fr *fieldReader) unpack(v interface{}) {
	if fr.err == nil {
		fr.fail(struc.Unpack(&fr.r, v))
	}
}

func (fr *fieldReader) u8() (v uint8) {
	if fr.err == nil {
		var err error
		v, err = fr.r.Uint8()
		fr.fail(err)
	}
	return
}

func (fr *fieldReader) u16() (v uint16) {
	if fr.err == nil {
		var err error
		v, err = fr.r.Uint16(le)
		fr.fail(err)
	}
	return
}

func (fr *fieldReader) u32() (v uint32) {
	if fr.err == nil {
		var err error
		v, err = fr.r.Uint32(le)
		fr.fail(err)
	}
	return
}

func (fr *fieldReader) u64() (v uint64) {
	if fr.err == nil {
		var err error
		v, err = fr.r.Uint64(le)
		fr.fail(err)
	}
	return
}

func (fr *fieldReader) prefixed32() (v []byte) {
	if fr.err == nil {
		var err error
		v, err = fr.r.Prefixed32(le)
		fr.fail(err)
	}
	return
}

func (fr *fieldReader) prefixed64() (v []byte) {
	n := fr.u64()
	if fr.err == nil {
		if n > uint64(fr.r.Remaining()) {
			fr.fail(byteslicereader.ErrShortBuffer)
			return nil
		}
		v, _ = fr.r.Next(int(n))
	}
	return
}

func (fr *fieldReader) str() string { return string(fr.prefixed32()) }

func (fr *fieldReader) rest() []byte {
	v, _ := fr.r.Next(fr.r.Remaining())
	return v
}

func (fr *fieldReader) strMap() map[string]string {
	inner := fieldReader{r: byteslicereader.R{Buffer: fr.prefixed32()}}
	m := make(map[string]string)
	for fr.err == nil && inner.err == nil && inner.r.Remaining() > 0 {
		k := inner.str()
		m[k] = inner.str()
	}
	fr.fail(inner.err)
	return m
}

func (fr *fieldReader) countMap() map[uint16]uint64 {
	inner := fieldReader{r: byteslicereader.R{Buffer: fr.prefixed32()}}
	m := make(map[uint16]uint64)
	for fr.err == nil && inner.err == nil && inner.r.Remaining() > 0 {
		k := inner.u16()
		m[k] = inner.u64()
	}
	fr.fail(inner.err)
	return m
}

func parseHeader(buf []byte) (h headerRecord, err error) {
	fr := newFieldReader(buf)
	h.Profile = fr.str()
	h.Library = fr.str()
	return h, fr.err
}

func parseSchema(buf []byte) (s schemaRecord, err error) {
	fr := newFieldReader(buf)
	s.ID = fr.u16()
	s.Name = fr.str()
	s.Encoding = fr.str()
	s.Data = fr.prefixed32()
	return s, fr.err
}

func parseChannel(buf []byte) (c channelRecord, err error) {
	fr := newFieldReader(buf)
	c.ID = fr.u16()
	c.SchemaID = fr.u16()
	c.Topic = fr.str()
	c.MessageEncoding = fr.str()
	c.Metadata = fr.strMap()
	return c, fr.err
}

func parseMessage(buf []byte) (m messageRecord, err error) {
	fr := newFieldReader(buf)
	fr.unpack(&m.messagePrefix)
	m.Data = fr.rest()
	return m, fr.err
}

func parseChunk(buf []byte) (c chunkRecord, err error) {
	fr := newFieldReader(buf)
	fr.unpack(&c.chunkPrefix)
	c.Compression = fr.str()
	c.Records = fr.prefixed64()
	return c, fr.err
}

func parseChunkIndex(buf []byte) (ci chunkIndexRecord, err error) {
	fr := newFieldReader(buf)
	fr.unpack(&ci.chunkIndexPrefix)
	ci.MessageIndexOffsets = fr.countMap()
	ci.MessageIndexLength = fr.u64()
	ci.Compression = fr.str()
	ci.CompressedSize = fr.u64()
	ci.UncompressedSize = fr.u64()
	return ci, fr.err
}

func parseStatistics(buf []byte) (s statisticsRecord, err error) {
	fr := newFieldReader(buf)
	fr.unpack(&s.statisticsPrefix)
	s.ChannelMessageCounts = fr.countMap()
	return s, fr.err
}

func parseMetadata(buf []byte) (m metadataRecord, err error) {
	fr := newFieldReader(buf)
	m.Name = fr.str()
	m.Metadata = fr.strMap()
	return m, fr.err
}

func parseMetadataIndex(buf []byte) (mi metadataIndexRecord, err error) {
	fr := newFieldReader(buf)
	mi.Offset = fr.u64()
	mi.Length = fr.u64()
	mi.Name = fr.str()
	return mi, fr.err
}

func parseDataEnd(buf []byte) (uint32, error) {
	fr := newFieldReader(buf)
	crc := fr.u32()
	return crc, fr.err
}

// recordIter iterates over the records in a buffer.
type recordIter struct {
	fr fieldReader
}

func newRecordIter(buf []byte) *recordIter {
	return &recordIter{fr: fieldReader{r: byteslicereader.R{Buffer: buf}}}
}

// next returns the next record. At the end of the buffer, it returns io.EOF.
//
// offset is the position of the record's opcode within the buffer.
func (it *recordIter) next() (op opcode, body []byte, offset int, err error) {
	if it.fr.err != nil {
		return 0, nil, 0, it.fr.err
	}
	if it.fr.r.Remaining() == 0 {
		return 0, nil, 0, io.EOF
	}

	offset = it.fr.r.Offset()
	op = opcode(it.fr.u8())
	body = it.fr.prefixed64()
	return op, body, offset, it.fr.err
}
