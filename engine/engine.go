package engine

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/exsql-io/go-querybridge/common"
)

// DefaultBatchSize bounds the rows of every batch a scan produces when the
// options leave it unset.
const DefaultBatchSize int64 = 64 * 1024

// Catalog resolves the tables a plan reads. Records it returns stay valid for
// as long as the catalog does.
type Catalog interface {
	Lookup(name string) (arrow.Record, bool)
}

type Options struct {
	Allocator memory.Allocator
	BatchSize int64
}

func (options Options) withDefaults() Options {
	if options.Allocator == nil {
		options.Allocator = memory.DefaultAllocator
	}

	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}

	return options
}

// Engine executes serialized Substrait plans.
type Engine interface {
	// Available is false when the binary was built without an execution
	// engine.
	Available() bool
	Execute(ctx context.Context, plan []byte, catalog Catalog) (*Cursor, error)
}

type VolcanoOperator interface {
	Open() error
	// Next returns a batch owned by the caller, or common.EOB once the
	// operator is drained.
	Next() (common.ColumnarBatch, error)
	Close() error
}

// Cursor pulls batches from the root of an operator tree. Zero-row batches
// are skipped unless keepEmpty is set. It implements common.CloseableIterator.
type Cursor struct {
	root      VolcanoOperator
	schema    *arrow.Schema
	names     []string
	current   common.ColumnarBatch
	err       error
	done      bool
	keepEmpty bool
}

func newCursor(root VolcanoOperator, names []string) *Cursor {
	return &Cursor{root: root, names: names}
}

func (cursor *Cursor) Next() bool {
	if cursor.done {
		return false
	}

	cursor.releaseCurrent()

	batch, err := cursor.root.Next()
	for err == nil && batch.NumRows() == 0 && !cursor.keepEmpty {
		batch.Release()
		batch, err = cursor.root.Next()
	}

	if err != nil {
		cursor.done = true
		if !common.IsEOB(err) {
			cursor.err = err
		}

		return false
	}

	cursor.current = renameColumns(batch, cursor.names)
	if cursor.schema == nil {
		cursor.schema = cursor.current.Schema()
	}

	return true
}

// Value returns the current batch; it is released by the next call to Next
// or Close.
func (cursor *Cursor) Value() common.ColumnarBatch {
	return cursor.current
}

func (cursor *Cursor) Err() error {
	return cursor.err
}

// Schema is the schema of the batches returned so far, nil before the first.
func (cursor *Cursor) Schema() *arrow.Schema {
	return cursor.schema
}

func (cursor *Cursor) Close() {
	cursor.releaseCurrent()
	if cursor.root != nil {
		_ = cursor.root.Close()
		cursor.root = nil
	}

	cursor.done = true
}

func (cursor *Cursor) releaseCurrent() {
	if cursor.current != nil {
		cursor.current.Release()
		cursor.current = nil
	}
}

// renameColumns applies the root names of a plan when they name exactly the
// top-level columns. It takes ownership of batch.
func renameColumns(batch arrow.Record, names []string) arrow.Record {
	if len(names) != int(batch.NumCols()) || len(names) == 0 {
		return batch
	}

	fields := make([]arrow.Field, len(names))
	changed := false
	for index, name := range names {
		fields[index] = batch.Schema().Field(index)
		if fields[index].Name != name {
			fields[index].Name = name
			changed = true
		}
	}

	if !changed {
		return batch
	}

	defer batch.Release()
	return array.NewRecord(arrow.NewSchema(fields, nil), batch.Columns(), batch.NumRows())
}

var _ common.CloseableIterator = (*Cursor)(nil)
