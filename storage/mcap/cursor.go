// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mcap

import (
	"container/heap"
	"io"
	"sort"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"

	"github.com/pkg/errors"
)

// itemKey orders cursor items by time, then by position in the file.
//
// A chunk that has not been loaded yet is keyed by its start time with a
// record offset of -1, so it is loaded before any message it could precede.
type itemKey struct {
	timestamp    uint64
	chunkOffset  uint64
	recordOffset int
}

func (k *itemKey) less(o *itemKey) bool {
	switch {
	case k.timestamp != o.timestamp:
		return k.timestamp < o.timestamp
	case k.chunkOffset != o.chunkOffset:
		return k.chunkOffset < o.chunkOffset
	default:
		return k.recordOffset < o.recordOffset
	}
}

type heapItem struct {
	itemKey

	// Exactly one of chunk and msg is set.
	chunk *chunkIndexRecord
	msg   *messageRecord
}

type itemHeap []*heapItem

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].less(&h[j].itemKey) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }

func (h *itemHeap) Pop() interface{} {
	old := *h
	v := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return v
}

// indexedCursor yields messages by loading chunks on demand, as directed by
// the summary's chunk indexes.
type indexedCursor struct {
	r *Reader
	q *query
	h itemHeap

	closed bool
}

func (r *Reader) indexedMessages(q *query) *indexedCursor {
	c := indexedCursor{r: r, q: q}
	for i := range r.chunkIndexes {
		ci := &r.chunkIndexes[i]
		if !q.wantsChunk(ci) {
			continue
		}
		c.h = append(c.h, &heapItem{
			itemKey: itemKey{timestamp: ci.Start, chunkOffset: ci.ChunkStartOffset, recordOffset: -1},
			chunk:   ci,
		})
	}
	heap.Init(&c.h)
	return &c
}

func (c *indexedCursor) Next() (*bag.Message, error) {
	for !c.closed && len(c.h) > 0 {
		it := heap.Pop(&c.h).(*heapItem)
		if it.msg != nil {
			return c.r.toMessage(it.msg)
		}

		if err := c.loadChunk(it.chunk); err != nil {
			readErrors.WithLabelValues("chunk").Inc()
			return nil, errors.Wrapf(err, "chunk at offset %d", it.chunk.ChunkStartOffset)
		}
	}
	return nil, io.EOF
}

// loadChunk pushes the chunk's selected messages onto the heap.
func (c *indexedCursor) loadChunk(ci *chunkIndexRecord) error {
	body, err := c.r.readRecordAt(int64(ci.ChunkStartOffset), opChunk)
	if err != nil {
		return bag.NewError(bag.KindStorage, c.r.path, err)
	}
	_, records, err := c.r.decodeChunk(body)
	if err != nil {
		return err
	}
	chunksRead.Inc()

	err = forEachMessage(records, func(m *messageRecord, offset int) {
		if !c.q.matches(m.Channel, int64(m.LogTime)) {
			return
		}
		heap.Push(&c.h, &heapItem{
			itemKey: itemKey{timestamp: m.LogTime, chunkOffset: ci.ChunkStartOffset, recordOffset: offset},
			msg:     m,
		})
	})
	if err != nil {
		return bag.NewError(bag.KindStorage, c.r.path, err)
	}
	return nil
}

func (c *indexedCursor) Close() error {
	if !c.closed {
		c.closed = true
		c.h = nil
		c.r.forgetCursor(c)
	}
	return nil
}

// forEachMessage calls fn for each message record in records, a chunk's
// uncompressed contents.
func forEachMessage(records []byte, fn func(m *messageRecord, offset int)) error {
	it := newRecordIter(records)
	for {
		op, body, offset, err := it.next()
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return errors.Wrap(err, "reading chunk records")
		}
		if op != opMessage {
			continue
		}

		m, err := parseMessage(body)
		if err != nil {
			return errors.Wrapf(err, "parsing message at chunk offset %d", offset)
		}
		fn(&m, offset)
	}
}

// sliceCursor yields a precomputed sequence of results.
type sliceCursor struct {
	r     *Reader
	items []sliceItem
}

type sliceItem struct {
	itemKey
	msg *messageRecord
	err error
}

// sortItems orders items by key. Errors are placed first.
func sortItems(items []sliceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ei, ej := items[i].err != nil, items[j].err != nil
		if ei || ej {
			return ei && !ej
		}
		return items[i].less(&items[j].itemKey)
	})
}

func (c *sliceCursor) Next() (*bag.Message, error) {
	if len(c.items) == 0 {
		return nil, io.EOF
	}
	it := c.items[0]
	c.items = c.items[1:]
	if it.err != nil {
		readErrors.WithLabelValues("chunk").Inc()
		return nil, it.err
	}
	return c.r.toMessage(it.msg)
}

func (c *sliceCursor) Close() error {
	c.items = nil
	if c.r != nil {
		c.r.forgetCursor(c)
		c.r = nil
	}
	return nil
}

var (
	_ storage.Cursor = (*indexedCursor)(nil)
	_ storage.Cursor = (*sliceCursor)(nil)
)
