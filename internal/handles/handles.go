// Package handles maps opaque integer tokens to Go values so that no Go
// pointer ever crosses the C boundary.
package handles

import "sync"

// Table is a side table of live values. Tokens are never reused, so a stale
// token cannot alias a newer value and a second Take on the same token fails.
type Table[T any] struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]T
}

func New[T any]() *Table[T] {
	return &Table[T]{live: map[uint64]T{}}
}

// Put stores v and returns its token. Tokens are non-zero.
func (table *Table[T]) Put(v T) uint64 {
	table.mu.Lock()
	defer table.mu.Unlock()

	table.next++
	table.live[table.next] = v

	return table.next
}

func (table *Table[T]) Get(token uint64) (T, bool) {
	table.mu.Lock()
	defer table.mu.Unlock()

	v, ok := table.live[token]
	return v, ok
}

// Take removes and returns the value stored under token.
func (table *Table[T]) Take(token uint64) (T, bool) {
	table.mu.Lock()
	defer table.mu.Unlock()

	v, ok := table.live[token]
	if ok {
		delete(table.live, token)
	}

	return v, ok
}

func (table *Table[T]) Len() int {
	table.mu.Lock()
	defer table.mu.Unlock()

	return len(table.live)
}
