package common

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/errors"
	"gopkg.in/yaml.v3"
)

type TypeName string

const (
	BooleanType   TypeName = "boolean"
	ByteType      TypeName = "byte"
	ShortType     TypeName = "short"
	IntType       TypeName = "int"
	LongType      TypeName = "long"
	UByteType     TypeName = "ubyte"
	UShortType    TypeName = "ushort"
	UIntType      TypeName = "uint"
	ULongType     TypeName = "ulong"
	FloatType     TypeName = "float"
	DoubleType    TypeName = "double"
	BytesType     TypeName = "bytes"
	Utf8Type      TypeName = "utf8"
	DateType      TypeName = "date"
	TimestampType TypeName = "timestamp"
	ArrayType     TypeName = "array"
	StructureType TypeName = "structure"
)

// Type is either a scalar type, an ArrayType whose Values describes the
// element type, or a StructureType whose Fields describe its members.
type Type struct {
	Name   TypeName `yaml:"name"`
	Values *Type    `yaml:"values,omitempty"`
	Fields *Fields  `yaml:"fields,omitempty"`
}

type Field struct {
	Name     string            `yaml:"name"`
	Nullable bool              `yaml:"nullable"`
	Type     Type              `yaml:"type"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

type Fields []Field

type Schema struct {
	Fields Fields `yaml:"fields"`
}

func FromYaml(path string) (*Schema, error) {
	yml, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(yml)
}

func Parse(yml []byte) (*Schema, error) {
	schema := Schema{}
	err := yaml.Unmarshal(yml, &schema)
	if err != nil {
		return nil, errors.Wrap(err, "parsing schema")
	}

	return &schema, nil
}

// ToArrow converts the schema into the arrow schema of the tables it
// describes.
func (schema *Schema) ToArrow() (*arrow.Schema, error) {
	fields, err := schema.Fields.toArrow()
	if err != nil {
		return nil, err
	}

	return arrow.NewSchema(fields, nil), nil
}

func (fields Fields) toArrow() ([]arrow.Field, error) {
	arrowFields := make([]arrow.Field, 0, len(fields))
	for _, field := range fields {
		dataType, err := toArrowType(field.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field '%s'", field.Name)
		}

		var metadata arrow.Metadata
		if len(field.Metadata) > 0 {
			metadata = arrow.MetadataFrom(field.Metadata)
		}

		arrowFields = append(arrowFields, arrow.Field{
			Name:     field.Name,
			Nullable: field.Nullable,
			Type:     dataType,
			Metadata: metadata,
		})
	}

	return arrowFields, nil
}

func toArrowType(tpe Type) (arrow.DataType, error) {
	switch tpe.Name {
	case BooleanType:
		return arrow.FixedWidthTypes.Boolean, nil
	case ByteType:
		return arrow.PrimitiveTypes.Int8, nil
	case ShortType:
		return arrow.PrimitiveTypes.Int16, nil
	case IntType:
		return arrow.PrimitiveTypes.Int32, nil
	case LongType:
		return arrow.PrimitiveTypes.Int64, nil
	case UByteType:
		return arrow.PrimitiveTypes.Uint8, nil
	case UShortType:
		return arrow.PrimitiveTypes.Uint16, nil
	case UIntType:
		return arrow.PrimitiveTypes.Uint32, nil
	case ULongType:
		return arrow.PrimitiveTypes.Uint64, nil
	case FloatType:
		return arrow.PrimitiveTypes.Float32, nil
	case DoubleType:
		return arrow.PrimitiveTypes.Float64, nil
	case BytesType:
		return arrow.BinaryTypes.Binary, nil
	case Utf8Type:
		return arrow.BinaryTypes.String, nil
	case DateType:
		return arrow.FixedWidthTypes.Date32, nil
	case TimestampType:
		return arrow.FixedWidthTypes.Timestamp_ms, nil
	case ArrayType:
		if tpe.Values == nil {
			return nil, errors.New(errors.SchemaMismatch, "array type without values")
		}

		values, err := toArrowType(*tpe.Values)
		if err != nil {
			return nil, err
		}

		return arrow.ListOf(values), nil
	case StructureType:
		if tpe.Fields == nil {
			return nil, errors.New(errors.SchemaMismatch, "structure type without fields")
		}

		fields, err := tpe.Fields.toArrow()
		if err != nil {
			return nil, err
		}

		return arrow.StructOf(fields...), nil
	default:
		return nil, errors.New(errors.SchemaMismatch, fmt.Sprintf("type: '%s' is not yet convertible to arrow type", tpe.Name))
	}
}

// FromArrow describes an arrow schema with the yaml model, for listing
// registered tables.
func FromArrow(schema *arrow.Schema) (*Schema, error) {
	fields, err := fromArrowFields(schema.Fields())
	if err != nil {
		return nil, err
	}

	return &Schema{Fields: fields}, nil
}

func fromArrowFields(arrowFields []arrow.Field) (Fields, error) {
	fields := make(Fields, 0, len(arrowFields))
	for _, arrowField := range arrowFields {
		tpe, err := fromArrowType(arrowField.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field '%s'", arrowField.Name)
		}

		fields = append(fields, Field{Name: arrowField.Name, Nullable: arrowField.Nullable, Type: tpe})
	}

	return fields, nil
}

var scalarNames = map[arrow.Type]TypeName{
	arrow.BOOL:      BooleanType,
	arrow.INT8:      ByteType,
	arrow.INT16:     ShortType,
	arrow.INT32:     IntType,
	arrow.INT64:     LongType,
	arrow.UINT8:     UByteType,
	arrow.UINT16:    UShortType,
	arrow.UINT32:    UIntType,
	arrow.UINT64:    ULongType,
	arrow.FLOAT32:   FloatType,
	arrow.FLOAT64:   DoubleType,
	arrow.BINARY:    BytesType,
	arrow.STRING:    Utf8Type,
	arrow.DATE32:    DateType,
	arrow.TIMESTAMP: TimestampType,
}

func fromArrowType(dataType arrow.DataType) (Type, error) {
	if name, ok := scalarNames[dataType.ID()]; ok {
		return Type{Name: name}, nil
	}

	switch dt := dataType.(type) {
	case *arrow.ListType:
		values, err := fromArrowType(dt.Elem())
		if err != nil {
			return Type{}, err
		}

		return Type{Name: ArrayType, Values: &values}, nil
	case *arrow.StructType:
		fields, err := fromArrowFields(dt.Fields())
		if err != nil {
			return Type{}, err
		}

		return Type{Name: StructureType, Fields: &fields}, nil
	}

	return Type{}, errors.Newf(errors.SchemaMismatch, "arrow type '%s' has no schema equivalent", dataType)
}
