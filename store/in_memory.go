package store

import (
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/exsql-io/go-querybridge/common"
	"github.com/exsql-io/go-querybridge/errors"
)

// InMemoryTable accumulates keyed rows, latest value per key, and builds
// them into a record on demand.
type InMemoryTable struct {
	mutex           sync.Mutex
	schema          *arrow.Schema
	records         map[int64][]byte
	keyLookup       map[string]int64
	inputFormatType InputFormatType
	allocator       memory.Allocator
	dirty           bool
}

func NewInMemoryTable(allocator memory.Allocator, inputFormatType InputFormatType, schema *common.Schema) (*InMemoryTable, error) {
	if inputFormatType != Json {
		return nil, errors.Newf(errors.Unsupported, "unsupported inputFormatType: '%s'", inputFormatType)
	}

	arrowSchema, err := schema.ToArrow()
	if err != nil {
		return nil, err
	}

	if allocator == nil {
		allocator = memory.DefaultAllocator
	}

	return &InMemoryTable{
		schema:          arrowSchema,
		records:         map[int64][]byte{},
		keyLookup:       map[string]int64{},
		inputFormatType: inputFormatType,
		allocator:       allocator,
	}, nil
}

func (table *InMemoryTable) Get(key []byte) []byte {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	offset, ok := table.keyLookup[string(key)]
	if !ok {
		return nil
	}

	return table.records[offset]
}

// Put stores value at offset. A row already stored under key is replaced, and
// a nil value deletes it.
func (table *InMemoryTable) Put(offset int64, key []byte, value []byte) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	if previous, ok := table.keyLookup[string(key)]; ok {
		delete(table.records, previous)
		delete(table.keyLookup, string(key))
	}

	if value != nil {
		table.records[offset] = value
		table.keyLookup[string(key)] = offset
	}

	table.dirty = true
}

func (table *InMemoryTable) Len() int {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	return len(table.records)
}

func (table *InMemoryTable) Schema() *arrow.Schema {
	return table.schema
}

// Dirty reports whether rows changed since the last call to Record.
func (table *InMemoryTable) Dirty() bool {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	return table.dirty
}

// Record builds the stored rows, in offset order, into a new record owned by
// the caller.
func (table *InMemoryTable) Record() (arrow.Record, error) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	offsets := make([]int64, 0, len(table.records))
	for offset := range table.records {
		offsets = append(offsets, offset)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	builder := array.NewRecordBuilder(table.allocator, table.schema)
	defer builder.Release()

	for _, offset := range offsets {
		if err := builder.UnmarshalJSON(table.records[offset]); err != nil {
			return nil, errors.Wrapf(errors.WrapCode(err, errors.SchemaMismatch), "row at offset %d", offset)
		}
	}

	table.dirty = false
	return builder.NewRecord(), nil
}
