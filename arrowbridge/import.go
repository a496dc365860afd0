// Package arrowbridge converts between the Arrow C Data Interface and native
// arrow-go values.
//
// Imports are zero copy: the caller's buffers are moved into arrow arrays and
// the caller's release callback fires once the last native reference goes
// away. Nothing is moved until the whole table has been validated, so a
// rejected registration leaves every caller array untouched.
//
// Exports hand out struct arrays wrapped in a lease: the consumer's release
// callback closes the lease exactly once, and only then are the engine-side
// buffers released.
package arrowbridge

// #include "abi.h"
import "C"

import (
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/exsql-io/go-querybridge/errors"
)

const maxNestingDepth = 64

// ImportTable imports one column per array, described by the children of the
// struct schema, into a record of numRows rows. The schema is borrowed and
// never released. On success every array has been consumed.
func ImportTable(schema *cdata.CArrowSchema, columns []*cdata.CArrowArray, numCols int, numRows int64) (arrow.Record, error) {
	if schema == nil {
		return nil, errors.New(errors.InvalidArgument, "schema is null")
	}

	if numCols < 0 || numRows < 0 {
		return nil, errors.Newf(errors.InvalidArgument, "negative shape: %d columns, %d rows", numCols, numRows)
	}

	root, err := readSchema((*C.struct_ArrowSchema)(unsafe.Pointer(schema)), 0)
	if err != nil {
		return nil, err
	}

	if root.format != "+s" {
		return nil, errors.Newf(errors.SchemaMismatch, "table schema must be a struct (+s), got format %q", root.format)
	}

	if len(root.children) != numCols {
		return nil, errors.Newf(errors.InvalidArgument, "num_cols is %d but the schema declares %d columns", numCols, len(root.children))
	}

	if len(columns) != numCols {
		return nil, errors.Newf(errors.InvalidArgument, "num_cols is %d but %d arrays were supplied", numCols, len(columns))
	}

	fields := make([]arrow.Field, numCols)
	for index, child := range root.children {
		f, err := child.field()
		if err != nil {
			return nil, errors.Wrapf(err, "column %d (%s)", index, child.name)
		}

		fields[index] = f
	}

	for index, column := range columns {
		if column == nil {
			return nil, errors.Newf(errors.InvalidArgument, "column %d (%s): array is null", index, fields[index].Name)
		}

		err := validateArray((*C.struct_ArrowArray)(unsafe.Pointer(column)), fields[index].Type, numRows, false, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "column %d (%s)", index, fields[index].Name)
		}
	}

	imported := make([]arrow.Array, 0, numCols)
	release := func() {
		for _, arr := range imported {
			arr.Release()
		}
	}

	for index, column := range columns {
		arr, err := cdata.ImportCArrayWithType(column, fields[index].Type)
		if err != nil {
			release()
			return nil, errors.Wrapf(errors.WrapCode(err, errors.SchemaMismatch), "column %d (%s)", index, fields[index].Name)
		}

		imported = append(imported, arr)
	}

	defer release()
	return array.NewRecord(arrow.NewSchema(fields, nil), imported, numRows), nil
}

func readSchema(schema *C.struct_ArrowSchema, depth int) (schemaNode, error) {
	if schema == nil {
		return schemaNode{}, errors.New(errors.InvalidArgument, "schema node is null")
	}

	if depth > maxNestingDepth {
		return schemaNode{}, errors.Newf(errors.SchemaMismatch, "schema nesting deeper than %d", maxNestingDepth)
	}

	if schema.release == nil {
		return schemaNode{}, errors.New(errors.InvalidArgument, "schema has already been released")
	}

	if schema.format == nil {
		return schemaNode{}, errors.New(errors.SchemaMismatch, "schema format is null")
	}

	if schema.dictionary != nil {
		return schemaNode{}, errors.New(errors.SchemaMismatch, "dictionary encoded columns are not supported")
	}

	node := schemaNode{
		format:   C.GoString(schema.format),
		nullable: schema.flags&C.ARROW_FLAG_NULLABLE != 0,
	}

	if schema.name != nil {
		node.name = C.GoString(schema.name)
	}

	if schema.n_children < 0 {
		return schemaNode{}, errors.Newf(errors.SchemaMismatch, "format %q declares %d children", node.format, int64(schema.n_children))
	}

	if schema.n_children > 0 {
		if schema.children == nil {
			return schemaNode{}, errors.Newf(errors.SchemaMismatch, "format %q declares %d children but has none", node.format, int64(schema.n_children))
		}

		children := unsafe.Slice(schema.children, int(schema.n_children))
		node.children = make([]schemaNode, len(children))
		for index, child := range children {
			c, err := readSchema(child, depth+1)
			if err != nil {
				return schemaNode{}, errors.Wrapf(err, "child %d", index)
			}

			node.children[index] = c
		}
	}

	return node, nil
}

// validateArray checks that arr matches the layout of dt. When atLeast is
// set, rows is a lower bound on arr's logical extent instead of its exact
// length.
func validateArray(arr *C.struct_ArrowArray, dt arrow.DataType, rows int64, atLeast bool, depth int) error {
	if arr == nil {
		return errors.New(errors.InvalidArgument, "array is null")
	}

	if depth > maxNestingDepth {
		return errors.Newf(errors.SchemaMismatch, "array nesting deeper than %d", maxNestingDepth)
	}

	if arr.release == nil {
		return errors.New(errors.InvalidArgument, "array has already been released")
	}

	length, offset := int64(arr.length), int64(arr.offset)
	if length < 0 || offset < 0 {
		return errors.Newf(errors.InvalidArgument, "negative length %d or offset %d", length, offset)
	}

	if atLeast {
		if offset+length < rows {
			return errors.Newf(errors.InvalidArgument, "array covers %d rows, expected at least %d", offset+length, rows)
		}
	} else if length != rows {
		return errors.Newf(errors.InvalidArgument, "array length is %d, expected %d rows", length, rows)
	}

	expected := expectedLayout(dt)
	if int64(arr.n_buffers) != expected.buffers {
		return errors.Newf(errors.SchemaMismatch, "%s array carries %d buffers, expected %d", dt, int64(arr.n_buffers), expected.buffers)
	}

	if int64(arr.n_children) != expected.children {
		return errors.Newf(errors.SchemaMismatch, "%s array carries %d children, expected %d", dt, int64(arr.n_children), expected.children)
	}

	if arr.dictionary != nil {
		return errors.Newf(errors.SchemaMismatch, "%s array carries an unexpected dictionary", dt)
	}

	if expected.buffers > 0 {
		if arr.buffers == nil {
			return errors.Newf(errors.SchemaMismatch, "%s array has a null buffer list", dt)
		}

		buffers := unsafe.Slice(arr.buffers, int(arr.n_buffers))
		if buffers[0] == nil && int64(arr.null_count) != 0 {
			return errors.Newf(errors.SchemaMismatch, "%s array reports %d nulls without a validity bitmap", dt, int64(arr.null_count))
		}

		if len(buffers) > 1 && length > 0 && buffers[1] == nil {
			return errors.Newf(errors.SchemaMismatch, "%s array has a null data buffer", dt)
		}
	}

	if expected.children == 0 {
		return nil
	}

	if arr.children == nil {
		return errors.Newf(errors.SchemaMismatch, "%s array has a null children list", dt)
	}

	children := unsafe.Slice(arr.children, int(arr.n_children))
	switch dt := dt.(type) {
	case *arrow.StructType:
		for index, child := range children {
			if err := validateArray(child, dt.Field(index).Type, offset+length, true, depth+1); err != nil {
				return errors.Wrapf(err, "field %d (%s)", index, dt.Field(index).Name)
			}
		}
	case arrow.ListLikeType:
		if err := validateArray(children[0], dt.Elem(), 0, true, depth+1); err != nil {
			return errors.Wrap(err, "list element")
		}
	}

	return nil
}

// DeclaredColumns returns the number of children of a table schema, or -1
// when schema is null or released. Callers holding a C array of column
// pointers use it to bound how many entries they read.
func DeclaredColumns(schema *cdata.CArrowSchema) int {
	if schema == nil {
		return -1
	}

	cSchema := (*C.struct_ArrowSchema)(unsafe.Pointer(schema))
	if cSchema.release == nil || cSchema.n_children < 0 {
		return -1
	}

	return int(cSchema.n_children)
}
