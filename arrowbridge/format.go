package arrowbridge

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/errors"
)

// schemaNode is the Go-side copy of one ArrowSchema node. It is read out of C
// memory once so that type resolution and layout checks never touch the
// caller's descriptors again.
type schemaNode struct {
	format   string
	name     string
	nullable bool
	children []schemaNode
}

// layout is the buffer and child count the C Data Interface mandates for a
// type family.
type layout struct {
	buffers  int64
	children int64
}

var primitiveFormats = map[string]arrow.DataType{
	"n":   arrow.Null,
	"b":   arrow.FixedWidthTypes.Boolean,
	"c":   arrow.PrimitiveTypes.Int8,
	"C":   arrow.PrimitiveTypes.Uint8,
	"s":   arrow.PrimitiveTypes.Int16,
	"S":   arrow.PrimitiveTypes.Uint16,
	"i":   arrow.PrimitiveTypes.Int32,
	"I":   arrow.PrimitiveTypes.Uint32,
	"l":   arrow.PrimitiveTypes.Int64,
	"L":   arrow.PrimitiveTypes.Uint64,
	"f":   arrow.PrimitiveTypes.Float32,
	"g":   arrow.PrimitiveTypes.Float64,
	"u":   arrow.BinaryTypes.String,
	"U":   arrow.BinaryTypes.LargeString,
	"z":   arrow.BinaryTypes.Binary,
	"Z":   arrow.BinaryTypes.LargeBinary,
	"tdD": arrow.FixedWidthTypes.Date32,
	"tdm": arrow.FixedWidthTypes.Date64,
}

var timestampUnits = map[byte]arrow.TimeUnit{
	's': arrow.Second,
	'm': arrow.Millisecond,
	'u': arrow.Microsecond,
	'n': arrow.Nanosecond,
}

// field resolves the node, and its children, into an arrow field.
func (node schemaNode) field() (arrow.Field, error) {
	dt, err := node.dataType()
	if err != nil {
		return arrow.Field{}, err
	}

	return arrow.Field{Name: node.name, Type: dt, Nullable: node.nullable}, nil
}

func (node schemaNode) dataType() (arrow.DataType, error) {
	if dt, ok := primitiveFormats[node.format]; ok {
		if len(node.children) != 0 {
			return nil, errors.Newf(errors.SchemaMismatch, "format %q declares %d children, expected none", node.format, len(node.children))
		}

		return dt, nil
	}

	switch {
	case strings.HasPrefix(node.format, "ts") && len(node.format) >= 4 && node.format[3] == ':':
		unit, ok := timestampUnits[node.format[2]]
		if !ok {
			return nil, errors.Newf(errors.SchemaMismatch, "unsupported timestamp unit in format %q", node.format)
		}

		return &arrow.TimestampType{Unit: unit, TimeZone: node.format[4:]}, nil

	case node.format == "+s":
		fields := make([]arrow.Field, len(node.children))
		for index, child := range node.children {
			f, err := child.field()
			if err != nil {
				return nil, errors.Wrapf(err, "struct child %d (%s)", index, child.name)
			}

			fields[index] = f
		}

		return arrow.StructOf(fields...), nil

	case node.format == "+l" || node.format == "+L":
		if len(node.children) != 1 {
			return nil, errors.Newf(errors.SchemaMismatch, "list format %q declares %d children, expected 1", node.format, len(node.children))
		}

		elem, err := node.children[0].field()
		if err != nil {
			return nil, errors.Wrap(err, "list element")
		}

		if node.format == "+L" {
			return arrow.LargeListOfField(elem), nil
		}

		return arrow.ListOfField(elem), nil
	}

	return nil, errors.Newf(errors.SchemaMismatch, "unsupported format %q", node.format)
}

// expectedLayout returns the buffer and child counts an array of type dt must
// carry.
func expectedLayout(dt arrow.DataType) layout {
	switch dt := dt.(type) {
	case *arrow.NullType:
		return layout{buffers: 0, children: 0}
	case *arrow.StringType, *arrow.LargeStringType, *arrow.BinaryType, *arrow.LargeBinaryType:
		return layout{buffers: 3, children: 0}
	case *arrow.StructType:
		return layout{buffers: 1, children: int64(dt.NumFields())}
	case *arrow.ListType, *arrow.LargeListType:
		return layout{buffers: 2, children: 1}
	default:
		return layout{buffers: 2, children: 0}
	}
}
