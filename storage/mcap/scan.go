// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mcap

import (
	"bufio"
	"bytes"
	"io"

	"github.com/danjacques/gorosbag/bag"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// errStopWalk ends a walkData iteration without error.
var errStopWalk = errors.New("stop walk")

// walkData calls fn for each record in the data section, in file order. The
// walk ends at the DataEnd record or at r.dataEnd.
func (r *Reader) walkData(fn func(op opcode, body []byte, offset int64) error) error {
	start := int64(len(Magic))
	br := bufio.NewReader(io.NewSectionReader(r.fd, start, r.dataEnd-start))

	prefix := make([]byte, recordPrefixSize)
	for offset := start; offset < r.dataEnd; {
		if _, err := io.ReadFull(br, prefix); err != nil {
			return errors.Wrapf(err, "reading record at offset %d", offset)
		}
		var rp recordPrefix
		if err := struc.Unpack(bytes.NewReader(prefix), &rp); err != nil {
			return err
		}
		if rp.Length > uint64(r.dataEnd-offset) {
			return errors.Errorf("record at offset %d is truncated", offset)
		}

		op := opcode(rp.Opcode)
		if op == opDataEnd {
			return nil
		}

		body := make([]byte, rp.Length)
		if _, err := io.ReadFull(br, body); err != nil {
			return errors.Wrapf(err, "reading record at offset %d", offset)
		}
		switch err := fn(op, body, offset); err {
		case nil:
		case errStopWalk:
			return nil
		default:
			return err
		}
		offset += recordPrefixSize + int64(rp.Length)
	}
	return nil
}

// scanSummary fills in schemas, channels and embedded metadata from the data
// section. Entries already loaded from a summary are kept.
func (r *Reader) scanSummary() error {
	return r.walkData(func(op opcode, body []byte, offset int64) error {
		switch op {
		case opSchema:
			s, err := parseSchema(body)
			if err != nil {
				return errors.Wrapf(err, "schema at offset %d", offset)
			}
			if _, ok := r.schemas[s.ID]; !ok {
				r.schemas[s.ID] = s
			}

		case opChannel:
			c, err := parseChannel(body)
			if err != nil {
				return errors.Wrapf(err, "channel at offset %d", offset)
			}
			if _, ok := r.channels[c.ID]; !ok {
				r.channels[c.ID] = c
			}

		case opMetadata:
			if r.embedded != nil {
				break
			}
			m, err := parseMetadata(body)
			if err != nil {
				return errors.Wrapf(err, "metadata at offset %d", offset)
			}
			if m.Name == metadataName {
				if err := r.setEmbedded(m); err != nil {
					r.log.Warnf("Ignoring embedded metadata in %q: %s", r.path, err)
				}
			}
		}
		return nil
	})
}

// scanMessages collects every selected message by reading the whole data
// section. Unreadable chunks become errors, which are yielded first.
func (r *Reader) scanMessages(q *query) *sliceCursor {
	c := sliceCursor{r: r}

	add := func(m *messageRecord, chunkOffset uint64, offset int) {
		if !q.matches(m.Channel, int64(m.LogTime)) {
			return
		}
		c.items = append(c.items, sliceItem{
			itemKey: itemKey{timestamp: m.LogTime, chunkOffset: chunkOffset, recordOffset: offset},
			msg:     m,
		})
	}
	fail := func(err error) { c.items = append(c.items, sliceItem{err: err}) }

	err := r.walkData(func(op opcode, body []byte, offset int64) error {
		switch op {
		case opMessage:
			m, err := parseMessage(body)
			if err != nil {
				fail(bag.NewError(bag.KindStorage, r.path, errors.Wrapf(err, "message at offset %d", offset)))
				break
			}
			add(&m, uint64(offset), 0)

		case opChunk:
			ch, records, err := r.decodeChunk(body)
			if err != nil {
				fail(errors.Wrapf(err, "chunk at offset %d", offset))
				break
			}
			if !q.filter.Overlaps(int64(ch.Start), int64(ch.End)) {
				break
			}
			chunksRead.Inc()
			if err := forEachMessage(records, func(m *messageRecord, ro int) { add(m, uint64(offset), ro) }); err != nil {
				fail(bag.NewError(bag.KindStorage, r.path, errors.Wrapf(err, "chunk at offset %d", offset)))
			}
		}
		return nil
	})
	if err != nil {
		fail(bag.NewError(bag.KindStorage, r.path, err))
	}

	sortItems(c.items)
	return &c
}
