// Package pool provides pooled datagram buffers to reduce GC pressure
// on the socket read path.
package pool

import "sync"

const (
	// SmallBufferSize fits typical control packets.
	SmallBufferSize = 1024

	// LargeBufferSize fits a maximum-size UDP datagram.
	LargeBufferSize = 65536
)

// BufferPool maintains separate pools per size class so small control
// packets don't pin maximum-size buffers.
type BufferPool struct {
	smallPool sync.Pool
	largePool sync.Pool
}

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		smallPool: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, SmallBufferSize)
				return &buf
			},
		},
		largePool: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, LargeBufferSize)
				return &buf
			},
		},
	}
}

// Get returns a buffer with at least the given capacity and zero
// length. Call Put when done.
func (p *BufferPool) Get(size int) *[]byte {
	switch {
	case size <= SmallBufferSize:
		buf := p.smallPool.Get().(*[]byte)
		*buf = (*buf)[:0]
		return buf
	case size <= LargeBufferSize:
		buf := p.largePool.Get().(*[]byte)
		*buf = (*buf)[:0]
		return buf
	default:
		buf := make([]byte, 0, size)
		return buf2ptr(buf)
	}
}

// GetExact returns a buffer with exactly the given length.
func (p *BufferPool) GetExact(size int) *[]byte {
	buf := p.Get(size)
	if cap(*buf) < size {
		b := make([]byte, size)
		return &b
	}
	*buf = (*buf)[:size]
	return buf
}

// Put returns a buffer to its size-class pool. Oversized buffers are
// left to the garbage collector.
func (p *BufferPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	c := cap(*buf)
	*buf = (*buf)[:0]

	switch {
	case c <= SmallBufferSize:
		p.smallPool.Put(buf)
	case c <= LargeBufferSize:
		p.largePool.Put(buf)
	}
}

func buf2ptr(b []byte) *[]byte { return &b }

// global is the default pool used by the package-level helpers.
var global = NewBufferPool()

// GetExactBuffer returns a buffer from the global pool with exactly
// the given length.
func GetExactBuffer(size int) *[]byte {
	return global.GetExact(size)
}

// PutBuffer returns a buffer to the global pool.
func PutBuffer(buf *[]byte) {
	global.Put(buf)
}
