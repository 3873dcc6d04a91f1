// Package pool provides typed object pools with usage counters.
//
// A Pool wraps sync.Pool with a constructor and an optional reset hook so
// callers never see a stale object and never type-assert.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a type-safe sync.Pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats Stats
}

// Stats counts pool traffic.
type Stats struct {
	allocated atomic.Int64
	inUse     atomic.Int64
	gets      atomic.Int64
}

// New creates a pool. reset, when non-nil, runs on every Put.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		p.stats.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get returns a pooled object or a fresh one.
func (p *Pool[T]) Get() T {
	p.stats.inUse.Add(1)
	p.stats.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns obj to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.stats.inUse.Add(-1)
	p.pool.Put(obj)
}

// Stats reports how many objects were allocated, are checked out, and how
// many Get calls were served. gets-allocated is the reuse count.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return p.stats.allocated.Load(), p.stats.inUse.Load(), p.stats.gets.Load()
}

// CopyBufferSize is the size of buffers handed out by CopyBuffers.
const CopyBufferSize = 1 << 20

// CopyBuffers holds scratch buffers for io.CopyBuffer. Pointers are pooled
// so Put does not allocate.
var CopyBuffers = New(func() *[]byte {
	b := make([]byte, CopyBufferSize)
	return &b
}, nil)
