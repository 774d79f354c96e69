// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool reuses large fixed-size byte buffers, such as the copy
// buffers used to compress and decompress whole storage files.
package bufferpool

import (
	"sync"
	"sync/atomic"
)

// Pool holds buffers of Size bytes.
//
// The zero value is not usable; Size must be set before the first Get.
type Pool struct {
	// Size is the size of the buffers in this pool.
	Size int

	base sync.Pool

	// allocated counts buffers created because none were free.
	allocated int64
}

// Get returns a buffer of p.Size bytes, allocating one if none is free.
//
// The caller must return the buffer with Release when done with it.
func (p *Pool) Get() *Buffer {
	b, ok := p.base.Get().(*Buffer)
	if !ok {
		atomic.AddInt64(&p.allocated, 1)
		b = &Buffer{bytes: make([]byte, p.Size)}
	}
	b.pool = p
	return b
}

// Allocated returns the number of buffers the pool has created.
func (p *Pool) Allocated() int64 { return atomic.LoadInt64(&p.allocated) }

// Buffer is a pooled byte buffer.
type Buffer struct {
	bytes []byte
	pool  *Pool
}

// Bytes returns the buffer's contents. It must not be used after Release.
func (b *Buffer) Bytes() []byte { return b.bytes }

// Release returns the buffer to its pool. Releasing twice is a no-op.
func (b *Buffer) Release() {
	if b.pool == nil {
		return
	}
	p := b.pool
	b.pool = nil
	p.base.Put(b)
}
