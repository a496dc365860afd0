package arrowbridge

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/memory/mallocator"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
)

type column struct {
	field arrow.Field
	data  arrow.Array
}

func int32Column(mem memory.Allocator, name string, values ...int32) column {
	builder := array.NewInt32Builder(mem)
	defer builder.Release()
	builder.AppendValues(values, nil)

	return column{field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int32}, data: builder.NewArray()}
}

func stringColumn(mem memory.Allocator, name string, values ...string) column {
	builder := array.NewStringBuilder(mem)
	defer builder.Release()
	builder.AppendValues(values, nil)

	return column{field: arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}, data: builder.NewArray()}
}

// exportTable exports the columns through the C Data Interface the way a
// foreign host would hand them over.
func exportTable(t *testing.T, fields []arrow.Field, columns ...column) (*cdata.CArrowSchema, []*cdata.CArrowArray) {
	t.Helper()

	if fields == nil {
		for _, c := range columns {
			fields = append(fields, c.field)
		}
	}

	schema := new(cdata.CArrowSchema)
	cdata.ExportArrowSchema(arrow.NewSchema(fields, nil), schema)

	arrays := make([]*cdata.CArrowArray, len(columns))
	for index, c := range columns {
		arrays[index] = new(cdata.CArrowArray)
		cdata.ExportArrowArray(c.data, arrays[index], nil)
		c.data.Release()
	}

	return schema, arrays
}

func releaseAll(schema *cdata.CArrowSchema, arrays []*cdata.CArrowArray) {
	for _, arr := range arrays {
		Release(arr)
	}

	cdata.ReleaseCArrowSchema(schema)
}

func TestImportTable(t *testing.T) {
	mem := mallocator.NewMallocator()
	defer mem.AssertSize(t, 0)

	schema, arrays := exportTable(t, nil,
		int32Column(mem, "id", 1, 2, 3),
		stringColumn(mem, "name", "a", "b", "c"),
	)
	defer cdata.ReleaseCArrowSchema(schema)

	rec, err := ImportTable(schema, arrays, 2, 3)
	require.NoError(t, err)
	defer rec.Release()

	for _, arr := range arrays {
		require.True(t, Released(arr), "a successful import consumes the caller arrays")
	}

	require.EqualValues(t, 2, rec.NumCols())
	require.EqualValues(t, 3, rec.NumRows())
	require.Equal(t, "id", rec.Schema().Field(0).Name)
	require.True(t, rec.Schema().Field(1).Nullable)
	require.Equal(t, []int32{1, 2, 3}, rec.Column(0).(*array.Int32).Int32Values())
	require.Equal(t, "c", rec.Column(1).(*array.String).Value(2))
}

func TestImportTableNested(t *testing.T) {
	mem := mallocator.NewMallocator()
	defer mem.AssertSize(t, 0)

	pointType := arrow.StructOf(
		arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "y", Type: arrow.PrimitiveTypes.Float64},
	)
	points := array.NewStructBuilder(mem, pointType)
	defer points.Release()
	for i := 0; i < 2; i++ {
		points.Append(true)
		points.FieldBuilder(0).(*array.Float64Builder).Append(float64(i))
		points.FieldBuilder(1).(*array.Float64Builder).Append(float64(i) * 2)
	}

	tags := array.NewListBuilder(mem, arrow.BinaryTypes.String)
	defer tags.Release()
	tags.Append(true)
	tags.ValueBuilder().(*array.StringBuilder).AppendValues([]string{"a", "b"}, nil)
	tags.Append(true)

	schema, arrays := exportTable(t, nil,
		column{field: arrow.Field{Name: "point", Type: pointType}, data: points.NewArray()},
		column{field: arrow.Field{Name: "tags", Type: arrow.ListOf(arrow.BinaryTypes.String)}, data: tags.NewArray()},
	)
	defer cdata.ReleaseCArrowSchema(schema)

	rec, err := ImportTable(schema, arrays, 2, 2)
	require.NoError(t, err)
	defer rec.Release()

	require.True(t, arrow.TypeEqual(pointType, rec.Column(0).DataType()))
	require.Equal(t, 2, rec.Column(1).(*array.List).Len())
	require.Equal(t, 2.0, rec.Column(0).(*array.Struct).Field(1).(*array.Float64).Value(1))
}

func TestImportTableZeroColumns(t *testing.T) {
	schema, arrays := exportTable(t, []arrow.Field{})
	defer cdata.ReleaseCArrowSchema(schema)

	rec, err := ImportTable(schema, arrays, 0, 5)
	require.NoError(t, err)
	defer rec.Release()

	require.EqualValues(t, 0, rec.NumCols())
	require.EqualValues(t, 5, rec.NumRows())
}

func TestImportTableRejects(t *testing.T) {
	tests := map[string]struct {
		columns func(mem memory.Allocator) []column
		fields  func(columns []column) []arrow.Field
		arrays  func(arrays []*cdata.CArrowArray) []*cdata.CArrowArray
		numCols int
		numRows int64
		code    errors.Code
	}{
		"more columns declared than supplied": {
			columns: func(mem memory.Allocator) []column {
				return []column{int32Column(mem, "id", 1, 2, 3)}
			},
			numCols: 2,
			numRows: 3,
			code:    errors.InvalidArgument,
		},
		"fewer arrays than columns": {
			columns: func(mem memory.Allocator) []column {
				return []column{int32Column(mem, "id", 1, 2, 3), int32Column(mem, "v", 4, 5, 6)}
			},
			arrays: func(arrays []*cdata.CArrowArray) []*cdata.CArrowArray {
				return arrays[:1]
			},
			numCols: 2,
			numRows: 3,
			code:    errors.InvalidArgument,
		},
		"row count mismatch": {
			columns: func(mem memory.Allocator) []column {
				return []column{int32Column(mem, "id", 1, 2, 3)}
			},
			numCols: 1,
			numRows: 4,
			code:    errors.InvalidArgument,
		},
		"buffer layout does not match declared type": {
			columns: func(mem memory.Allocator) []column {
				return []column{stringColumn(mem, "id", "1", "2")}
			},
			fields: func(columns []column) []arrow.Field {
				return []arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int32}}
			},
			numCols: 1,
			numRows: 2,
			code:    errors.SchemaMismatch,
		},
		"unsupported type tag": {
			columns: func(mem memory.Allocator) []column {
				return []column{int32Column(mem, "m", 1)}
			},
			fields: func(columns []column) []arrow.Field {
				return []arrow.Field{{Name: "m", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int32)}}
			},
			numCols: 1,
			numRows: 1,
			code:    errors.SchemaMismatch,
		},
		"second column invalid leaves the first untouched": {
			columns: func(mem memory.Allocator) []column {
				return []column{int32Column(mem, "id", 1, 2), stringColumn(mem, "name", "a")}
			},
			numCols: 2,
			numRows: 2,
			code:    errors.InvalidArgument,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			mem := mallocator.NewMallocator()
			defer mem.AssertSize(t, 0)

			columns := test.columns(mem)
			var fields []arrow.Field
			if test.fields != nil {
				fields = test.fields(columns)
			}

			schema, arrays := exportTable(t, fields, columns...)
			defer releaseAll(schema, arrays)

			supplied := arrays
			if test.arrays != nil {
				supplied = test.arrays(arrays)
			}

			rec, err := ImportTable(schema, supplied, test.numCols, test.numRows)
			require.Nil(t, rec)
			require.Error(t, err)
			require.Equal(t, test.code, errors.CodeOf(err), err.Error())

			for _, arr := range arrays {
				require.False(t, Released(arr), "a failed import must leave ownership with the caller")
			}
		})
	}
}

func TestImportTableNullInputs(t *testing.T) {
	_, err := ImportTable(nil, nil, 0, 0)
	require.True(t, errors.Is(err, errors.InvalidArgument))

	mem := mallocator.NewMallocator()
	defer mem.AssertSize(t, 0)

	schema, arrays := exportTable(t, nil, int32Column(mem, "id", 1))
	defer releaseAll(schema, arrays)

	_, err = ImportTable(schema, []*cdata.CArrowArray{nil}, 1, 1)
	require.True(t, errors.Is(err, errors.InvalidArgument))
}

func TestExportBatch(t *testing.T) {
	mem := mallocator.NewMallocator()
	defer mem.AssertSize(t, 0)

	id := int32Column(mem, "id", 1, 2, 3)
	name := stringColumn(mem, "name", "x", "y", "z")
	rec := array.NewRecord(arrow.NewSchema([]arrow.Field{id.field, name.field}, nil), []arrow.Array{id.data, name.data}, 3)
	id.data.Release()
	name.data.Release()

	before := Outstanding()

	outSchema := new(cdata.CArrowSchema)
	require.NoError(t, ExportSchema(rec.Schema(), outSchema))

	out := new(cdata.CArrowArray)
	require.NoError(t, ExportBatch(rec, out))
	rec.Release()
	require.Equal(t, before+1, Outstanding())

	imported, err := cdata.ImportCRecordBatch(out, outSchema)
	require.NoError(t, err)
	require.True(t, Released(out))

	require.EqualValues(t, 3, imported.NumRows())
	require.EqualValues(t, 2, imported.NumCols())
	require.Equal(t, []int32{1, 2, 3}, imported.Column(0).(*array.Int32).Int32Values())
	require.Equal(t, "y", imported.Column(1).(*array.String).Value(1))

	imported.Release()
	require.Equal(t, before, Outstanding(), "releasing the consumer side must close the lease")
}

func TestExportBatchDoubleRelease(t *testing.T) {
	mem := mallocator.NewMallocator()
	defer mem.AssertSize(t, 0)

	id := int32Column(mem, "id", 7)
	rec := array.NewRecord(arrow.NewSchema([]arrow.Field{id.field}, nil), []arrow.Array{id.data}, 1)
	id.data.Release()
	defer rec.Release()

	out := new(cdata.CArrowArray)
	require.NoError(t, ExportBatch(rec, out))

	duplicate := *out
	doubles := DoubleReleases()

	Release(out)
	require.True(t, Released(out))
	require.Equal(t, doubles, DoubleReleases())

	Release(&duplicate)
	require.Equal(t, doubles+1, DoubleReleases())
}

func TestExportRejectsNullOutputs(t *testing.T) {
	require.True(t, errors.Is(ExportSchema(arrow.NewSchema(nil, nil), nil), errors.InvalidArgument))
	require.True(t, errors.Is(ExportBatch(nil, nil), errors.InvalidArgument))
}

func TestDeclaredColumns(t *testing.T) {
	mem := mallocator.NewMallocator()
	defer mem.AssertSize(t, 0)

	schema, arrays := exportTable(t, nil, int32Column(mem, "a", 1), int32Column(mem, "b", 2))
	require.Equal(t, 2, DeclaredColumns(schema))

	releaseAll(schema, arrays)
	require.Equal(t, -1, DeclaredColumns(schema))
	require.Equal(t, -1, DeclaredColumns(nil))
	require.True(t, SchemaReleased(schema))
}
