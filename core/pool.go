package core

import (
	"bytes"
	"sync"
)

// GenericPool is a typed wrapper around sync.Pool.
type GenericPool[T any] struct {
	pool sync.Pool
}

func NewGenericPool[T any](newItem func() T) *GenericPool[T] {
	return &GenericPool[T]{
		pool: sync.Pool{New: func() any { return newItem() }},
	}
}

func (p *GenericPool[T]) Get() T     { return p.pool.Get().(T) }
func (p *GenericPool[T]) Put(item T) { p.pool.Put(item) }

// maxPooledBuffer keeps a single huge cache image from pinning memory in the pool.
const maxPooledBuffer = 4 << 20

type bufferPool struct {
	inner *GenericPool[*bytes.Buffer]
}

// BufferPool hands out scratch buffers for encoding and compression.
var BufferPool = &bufferPool{
	inner: NewGenericPool(func() *bytes.Buffer { return new(bytes.Buffer) }),
}

func (p *bufferPool) Get() *bytes.Buffer {
	buf := p.inner.Get()
	buf.Reset()
	return buf
}

func (p *bufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	p.inner.Put(buf)
}
