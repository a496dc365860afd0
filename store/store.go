package store

import (
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/common"
	"github.com/exsql-io/go-querybridge/errors"
)

type InputFormatType string

const (
	Json InputFormatType = "json"
)

// Registry maps table names to immutable records. Every record it holds has
// been retained once on behalf of the registry.
type Registry struct {
	mutex  sync.RWMutex
	tables map[string]arrow.Record
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{tables: map[string]arrow.Record{}}
}

// Put installs rec under name, replacing any previous table of that name.
// The registry retains rec; the caller keeps its own reference.
func (registry *Registry) Put(name string, rec arrow.Record) error {
	if name == "" {
		return errors.New(errors.InvalidArgument, "table name is empty")
	}

	if rec == nil {
		return errors.New(errors.InvalidArgument, "table is null")
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if registry.closed {
		return errors.New(errors.InvalidHandle, "registry is closed")
	}

	rec.Retain()
	if previous, ok := registry.tables[name]; ok {
		previous.Release()
	}

	registry.tables[name] = rec
	return nil
}

// Get returns a retained reference to the named table.
func (registry *Registry) Get(name string) (arrow.Record, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	rec, ok := registry.tables[name]
	if ok {
		rec.Retain()
	}

	return rec, ok
}

func (registry *Registry) Drop(name string) bool {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	rec, ok := registry.tables[name]
	if !ok {
		return false
	}

	delete(registry.tables, name)
	rec.Release()
	return true
}

// Names returns the registered table names in sorted order.
func (registry *Registry) Names() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	names := make([]string, 0, len(registry.tables))
	for name := range registry.tables {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

func (registry *Registry) Len() int {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	return len(registry.tables)
}

// Snapshot captures the current table set. Later registrations do not affect
// it, and its tables stay alive until the snapshot is released.
func (registry *Registry) Snapshot() *Snapshot {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	tables := make(map[string]arrow.Record, len(registry.tables))
	for name, rec := range registry.tables {
		rec.Retain()
		tables[name] = rec
	}

	return &Snapshot{tables: tables}
}

// Close releases every table. Further puts fail with InvalidHandle.
func (registry *Registry) Close() {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	for name, rec := range registry.tables {
		rec.Release()
		delete(registry.tables, name)
	}

	registry.closed = true
}

type Snapshot struct {
	once   sync.Once
	tables map[string]arrow.Record
}

// Lookup returns the named table without retaining it; it is valid until the
// snapshot is released.
func (snapshot *Snapshot) Lookup(name string) (arrow.Record, bool) {
	rec, ok := snapshot.tables[name]
	return rec, ok
}

func (snapshot *Snapshot) Release() {
	snapshot.once.Do(func() {
		for _, rec := range snapshot.tables {
			rec.Release()
		}

		snapshot.tables = nil
	})
}

type recordIterator struct {
	rec       arrow.Record
	batchSize int64
	offset    int64
	current   arrow.Record
}

// NewRecordIterator walks rec in slices of at most batchSize rows. A
// batchSize of zero or less yields the whole record at once. Records without
// columns are sliced by their row count like any other.
func NewRecordIterator(rec arrow.Record, batchSize int64) common.CloseableIterator {
	if batchSize <= 0 {
		batchSize = rec.NumRows()
	}

	rec.Retain()
	return &recordIterator{rec: rec, batchSize: batchSize}
}

func (iterator *recordIterator) Next() bool {
	iterator.releaseCurrent()
	if iterator.rec == nil || iterator.offset >= iterator.rec.NumRows() {
		return false
	}

	end := min(iterator.offset+iterator.batchSize, iterator.rec.NumRows())
	iterator.current = iterator.rec.NewSlice(iterator.offset, end)
	iterator.offset = end

	return true
}

// Value is valid until the next call to Next or Close.
func (iterator *recordIterator) Value() common.ColumnarBatch {
	return iterator.current
}

func (iterator *recordIterator) Err() error {
	return nil
}

func (iterator *recordIterator) Close() {
	iterator.releaseCurrent()
	if iterator.rec != nil {
		iterator.rec.Release()
		iterator.rec = nil
	}
}

func (iterator *recordIterator) releaseCurrent() {
	if iterator.current != nil {
		iterator.current.Release()
		iterator.current = nil
	}
}
