package engine

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/errors"
	substraitpb "github.com/substrait-io/substrait-go/proto"
)

// toNamedStruct describes an arrow schema as a Substrait base schema. Names
// are listed depth first, struct members included.
func toNamedStruct(schema *arrow.Schema) (*substraitpb.NamedStruct, error) {
	named := &substraitpb.NamedStruct{Struct: &substraitpb.Type_Struct{Nullability: substraitpb.Type_NULLABILITY_REQUIRED}}
	for _, field := range schema.Fields() {
		tpe, names, err := toSubstraitType(field)
		if err != nil {
			return nil, errors.Wrapf(err, "field '%s'", field.Name)
		}

		named.Names = append(named.Names, names...)
		named.Struct.Types = append(named.Struct.Types, tpe)
	}

	return named, nil
}

func nullability(nullable bool) substraitpb.Type_Nullability {
	if nullable {
		return substraitpb.Type_NULLABILITY_NULLABLE
	}

	return substraitpb.Type_NULLABILITY_REQUIRED
}

// toSubstraitType maps field to its Substrait type. Unsigned integers are
// widened to the next signed type; the engine always reads the arrow type.
func toSubstraitType(field arrow.Field) (*substraitpb.Type, []string, error) {
	n := nullability(field.Nullable)
	names := []string{field.Name}

	var tpe *substraitpb.Type
	switch dt := field.Type.(type) {
	case *arrow.BooleanType:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_Bool{Bool: &substraitpb.Type_Boolean{Nullability: n}}}
	case *arrow.Int8Type:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_I8_{I8: &substraitpb.Type_I8{Nullability: n}}}
	case *arrow.Int16Type, *arrow.Uint8Type:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_I16_{I16: &substraitpb.Type_I16{Nullability: n}}}
	case *arrow.Int32Type, *arrow.Uint16Type:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_I32_{I32: &substraitpb.Type_I32{Nullability: n}}}
	case *arrow.Int64Type, *arrow.Uint32Type, *arrow.Uint64Type:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_I64_{I64: &substraitpb.Type_I64{Nullability: n}}}
	case *arrow.Float32Type:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_Fp32{Fp32: &substraitpb.Type_FP32{Nullability: n}}}
	case *arrow.Float64Type:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_Fp64{Fp64: &substraitpb.Type_FP64{Nullability: n}}}
	case *arrow.StringType, *arrow.LargeStringType:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_String_{String_: &substraitpb.Type_String{Nullability: n}}}
	case *arrow.BinaryType, *arrow.LargeBinaryType:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_Binary_{Binary: &substraitpb.Type_Binary{Nullability: n}}}
	case *arrow.Date32Type, *arrow.Date64Type:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_Date_{Date: &substraitpb.Type_Date{Nullability: n}}}
	case *arrow.TimestampType:
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_Timestamp_{Timestamp: &substraitpb.Type_Timestamp{Nullability: n}}}
	case *arrow.StructType:
		members := &substraitpb.Type_Struct{Nullability: n}
		for _, child := range dt.Fields() {
			childType, childNames, err := toSubstraitType(child)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "member '%s'", child.Name)
			}

			members.Types = append(members.Types, childType)
			names = append(names, childNames...)
		}

		tpe = &substraitpb.Type{Kind: &substraitpb.Type_Struct_{Struct: members}}
	case arrow.ListLikeType:
		elem, elemNames, err := toSubstraitType(dt.ElemField())
		if err != nil {
			return nil, nil, errors.Wrap(err, "list element")
		}

		// list elements are not named, but struct members below them are
		names = append(names, elemNames[1:]...)
		tpe = &substraitpb.Type{Kind: &substraitpb.Type_List_{List: &substraitpb.Type_List{Type: elem, Nullability: n}}}
	default:
		return nil, nil, errors.Newf(errors.Unsupported, "arrow type %s has no substrait equivalent", field.Type)
	}

	return tpe, names, nil
}
