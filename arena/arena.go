// Package arena provides the bounded allocation domain owned by a session.
//
// An Arena is a memory.Allocator that accounts every byte it hands out and
// refuses allocations beyond its limit. Arrow kernels cannot return an error
// from an allocation, so exceeding the limit panics with an OutOfMemory coded
// error; the session boundary recovers it and reports it as a diagnostic.
package arena

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/memory/mallocator"
	"github.com/exsql-io/go-querybridge/errors"
)

// Unbounded disables the arena limit.
const Unbounded int64 = 0

type Arena struct {
	mem   memory.Allocator
	limit int64
	used  atomic.Int64
	peak  atomic.Int64
}

// New returns an arena backed by the C heap, so exported buffers never point
// into Go memory.
func New(limit int64) *Arena {
	return NewWithAllocator(mallocator.NewMallocator(), limit)
}

func NewWithAllocator(mem memory.Allocator, limit int64) *Arena {
	if limit < 0 {
		limit = Unbounded
	}

	return &Arena{mem: mem, limit: limit}
}

func (arena *Arena) Allocate(size int) []byte {
	arena.reserve(int64(size))
	return arena.mem.Allocate(size)
}

func (arena *Arena) Reallocate(size int, b []byte) []byte {
	delta := int64(size - len(b))
	if delta > 0 {
		arena.reserve(delta)
	} else {
		arena.used.Add(delta)
	}

	return arena.mem.Reallocate(size, b)
}

func (arena *Arena) Free(b []byte) {
	arena.used.Add(-int64(len(b)))
	arena.mem.Free(b)
}

// Allocated returns the number of bytes currently held.
func (arena *Arena) Allocated() int64 {
	return arena.used.Load()
}

// Peak returns the high-water mark of Allocated.
func (arena *Arena) Peak() int64 {
	return arena.peak.Load()
}

func (arena *Arena) Limit() int64 {
	return arena.limit
}

func (arena *Arena) reserve(size int64) {
	used := arena.used.Add(size)
	if arena.limit != Unbounded && used > arena.limit {
		arena.used.Add(-size)
		panic(errors.Newf(errors.OutOfMemory, "arena limit of %d bytes exceeded: requested %d with %d in use", arena.limit, size, used-size))
	}

	for {
		peak := arena.peak.Load()
		if used <= peak || arena.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}
