// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package rosbag

import (
	"container/heap"
	"io"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"

	"github.com/pkg/errors"
)

// source is the cursor of a single storage file.
type source struct {
	file *storageFile
	c    storage.Cursor

	// head is the source's next message, or nil if it is exhausted.
	head *bag.Message
	// index is the source's position in the bag's file list.
	index int
}

// sourceHeap orders sources by their head message, then by file order.
type sourceHeap []*source

func (h sourceHeap) Len() int { return len(h) }
func (h sourceHeap) Less(i, j int) bool {
	if ti, tj := h[i].head.Timestamp, h[j].head.Timestamp; ti != tj {
		return ti < tj
	}
	return h[i].index < h[j].index
}
func (h sourceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sourceHeap) Push(x interface{}) { *h = append(*h, x.(*source)) }
func (h *sourceHeap) Pop() interface{} {
	old := *h
	v := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return v
}

// Cursor iterates over the messages of a bag in timestamp order.
//
// Next returns io.EOF once the messages are exhausted. Any other error
// concerns a single unreadable message or storage region; iteration may
// continue past it with further calls to Next.
type Cursor struct {
	r       *Reader
	sources []*source

	started bool
	h       sourceHeap
	// pending holds errors that were encountered while advancing sources.
	pending []error

	closed bool
}

// advance loads the next message of s, queueing any errors encountered on
// the way. If s has a message, it is pushed onto the heap.
func (c *Cursor) advance(s *source) {
	for {
		msg, err := s.c.Next()
		switch err {
		case nil:
			id, ok := s.file.connMap[msg.ConnectionID]
			if !ok {
				c.pending = append(c.pending, bag.Errorf(bag.KindStorage, s.file.rel,
					"message at %d refers to unknown connection %d", msg.Timestamp, msg.ConnectionID))
				continue
			}
			msg.ConnectionID = id
			s.head = msg
			heap.Push(&c.h, s)
			return

		case io.EOF:
			s.head = nil
			return

		default:
			c.pending = append(c.pending, errors.Wrapf(err, "reading %q", s.file.rel))
		}
	}
}

// Next returns the next message.
func (c *Cursor) Next() (*bag.Message, error) {
	if c.closed {
		return nil, io.EOF
	}

	if !c.started {
		c.started = true
		for i, s := range c.sources {
			s.index = i
			c.advance(s)
		}
	}

	if len(c.pending) > 0 {
		err := c.pending[0]
		c.pending = c.pending[1:]
		readErrors.Inc()
		return nil, err
	}
	if len(c.h) == 0 {
		return nil, io.EOF
	}

	s := heap.Pop(&c.h).(*source)
	msg := s.head
	c.advance(s)
	messagesRead.Inc()
	return msg, nil
}

// Close releases the cursor's resources. After Close, Next returns io.EOF.
//
// Close is idempotent.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeSources()
	c.h, c.pending = nil, nil
	delete(c.r.cursors, c)
	return nil
}

func (c *Cursor) closeSources() {
	for _, s := range c.sources {
		_ = s.c.Close()
	}
}
