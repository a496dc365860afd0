package store

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/exsql-io/go-querybridge/errors"
)

// Concatenate joins records sharing schema column by column into one record
// owned by the caller. No records give an empty record.
func Concatenate(mem memory.Allocator, schema *arrow.Schema, records []arrow.Record) (arrow.Record, error) {
	if len(records) == 1 {
		records[0].Retain()
		return records[0], nil
	}

	columns := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, column := range columns {
			if column != nil {
				column.Release()
			}
		}
	}()

	var rows int64
	for _, rec := range records {
		rows += rec.NumRows()
	}

	for index, field := range schema.Fields() {
		if len(records) == 0 {
			columns[index] = array.MakeArrayOfNull(mem, field.Type, 0)
			continue
		}

		chunks := make([]arrow.Array, len(records))
		for i, rec := range records {
			chunks[i] = rec.Column(index)
		}

		column, err := array.Concatenate(chunks, mem)
		if err != nil {
			return nil, errors.Wrapf(errors.WrapCode(err, errors.SchemaMismatch), "column %s", field.Name)
		}

		columns[index] = column
	}

	return array.NewRecord(schema, columns, rows), nil
}
