package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/exsql-io/go-querybridge/errors"
	substraitpb "github.com/substrait-io/substrait-go/proto"
)

type function struct {
	arrowName string
	minArgs   int
	maxArgs   int
}

// functions maps Substrait function names onto arrow compute kernels.
var functions = map[string]function{
	"equal":       {arrowName: "equal", minArgs: 2, maxArgs: 2},
	"not_equal":   {arrowName: "not_equal", minArgs: 2, maxArgs: 2},
	"lt":          {arrowName: "less", minArgs: 2, maxArgs: 2},
	"lte":         {arrowName: "less_equal", minArgs: 2, maxArgs: 2},
	"gt":          {arrowName: "greater", minArgs: 2, maxArgs: 2},
	"gte":         {arrowName: "greater_equal", minArgs: 2, maxArgs: 2},
	"and":         {arrowName: "and_kleene", minArgs: 2, maxArgs: -1},
	"or":          {arrowName: "or_kleene", minArgs: 2, maxArgs: -1},
	"not":         {arrowName: "not", minArgs: 1, maxArgs: 1},
	"is_null":     {arrowName: "is_null", minArgs: 1, maxArgs: 1},
	"is_not_null": {arrowName: "is_not_null", minArgs: 1, maxArgs: 1},
}

// functionSet resolves the function anchors declared by a plan.
type functionSet map[uint32]string

func newFunctionSet(plan *substraitpb.Plan) functionSet {
	set := functionSet{}
	for _, declaration := range plan.GetExtensions() {
		fn := declaration.GetExtensionFunction()
		if fn == nil {
			continue
		}

		name := fn.GetName()
		if index := strings.IndexByte(name, ':'); index >= 0 {
			name = name[:index]
		}

		set[fn.GetFunctionAnchor()] = name
	}

	return set
}

// expression is a compiled Substrait expression bound to an input schema.
type expression interface {
	field(name string) arrow.Field
	evaluate(ctx context.Context, batch arrow.Record) (compute.Datum, error)
	release()
}

type fieldRef struct {
	index int
	input arrow.Field
}

func (ref *fieldRef) field(string) arrow.Field {
	return ref.input
}

func (ref *fieldRef) evaluate(_ context.Context, batch arrow.Record) (compute.Datum, error) {
	return compute.NewDatum(batch.Column(ref.index)), nil
}

func (ref *fieldRef) release() {}

type literal struct {
	value scalar.Scalar
}

func (lit *literal) field(name string) arrow.Field {
	return arrow.Field{Name: name, Type: lit.value.DataType(), Nullable: !lit.value.IsValid()}
}

func (lit *literal) evaluate(context.Context, arrow.Record) (compute.Datum, error) {
	return compute.NewDatum(lit.value), nil
}

func (lit *literal) release() {
	if releasable, ok := lit.value.(scalar.Releasable); ok {
		releasable.Release()
	}
}

type call struct {
	name string
	args []expression
}

func (c *call) field(name string) arrow.Field {
	return arrow.Field{Name: name, Type: arrow.FixedWidthTypes.Boolean, Nullable: true}
}

func (c *call) evaluate(ctx context.Context, batch arrow.Record) (compute.Datum, error) {
	args := make([]compute.Datum, 0, len(c.args))
	defer func() {
		for _, arg := range args {
			arg.Release()
		}
	}()

	for _, arg := range c.args {
		datum, err := arg.evaluate(ctx, batch)
		if err != nil {
			return nil, err
		}

		args = append(args, datum)
	}

	var result compute.Datum
	var err error
	if len(args) == 1 {
		result, err = compute.CallFunction(ctx, c.name, nil, args[0])
	} else {
		result, err = compute.CallFunction(ctx, c.name, nil, args[0], args[1])
	}

	if err != nil {
		return nil, errors.Wrapf(errors.WrapCode(err, errors.ExecutionError), "evaluating %s", c.name)
	}

	for _, next := range args[min(len(args), 2):] {
		folded, err := compute.CallFunction(ctx, c.name, nil, result, next)
		result.Release()
		if err != nil {
			return nil, errors.Wrapf(errors.WrapCode(err, errors.ExecutionError), "evaluating %s", c.name)
		}

		result = folded
	}

	return result, nil
}

func (c *call) release() {
	for _, arg := range c.args {
		arg.release()
	}
}

func compileExpression(e *substraitpb.Expression, input *arrow.Schema, set functionSet) (expression, error) {
	if e == nil {
		return nil, errors.New(errors.ExecutionError, "expression is missing")
	}

	switch rex := e.GetRexType().(type) {
	case *substraitpb.Expression_Selection:
		return compileFieldRef(rex.Selection, input)
	case *substraitpb.Expression_Literal_:
		value, err := literalScalar(rex.Literal)
		if err != nil {
			return nil, err
		}

		return &literal{value: value}, nil
	case *substraitpb.Expression_ScalarFunction_:
		return compileCall(rex.ScalarFunction, input, set)
	}

	return nil, errors.Newf(errors.ExecutionError, "expression %T is not supported", e.GetRexType())
}

func compileFieldRef(ref *substraitpb.Expression_FieldReference, input *arrow.Schema) (expression, error) {
	segment := ref.GetDirectReference()
	if segment == nil {
		return nil, errors.New(errors.ExecutionError, "only direct field references are supported")
	}

	structField := segment.GetStructField()
	if structField == nil || structField.GetChild() != nil {
		return nil, errors.New(errors.ExecutionError, "only top-level struct field references are supported")
	}

	index := int(structField.GetField())
	if index < 0 || index >= input.NumFields() {
		return nil, errors.Newf(errors.ExecutionError, "field reference %d is out of range for %d columns", index, input.NumFields())
	}

	return &fieldRef{index: index, input: input.Field(index)}, nil
}

func compileCall(fn *substraitpb.Expression_ScalarFunction, input *arrow.Schema, set functionSet) (expression, error) {
	name, ok := set[fn.GetFunctionReference()]
	if !ok {
		return nil, errors.Newf(errors.ExecutionError, "function anchor %d is not declared", fn.GetFunctionReference())
	}

	definition, ok := functions[name]
	if !ok {
		return nil, errors.Newf(errors.ExecutionError, "function '%s' is not supported", name)
	}

	arguments := fn.GetArguments()
	if len(arguments) < definition.minArgs || (definition.maxArgs >= 0 && len(arguments) > definition.maxArgs) {
		return nil, errors.Newf(errors.ExecutionError, "function '%s' called with %d arguments", name, len(arguments))
	}

	compiled := &call{name: definition.arrowName}
	for index, argument := range arguments {
		value := argument.GetValue()
		if value == nil {
			compiled.release()
			return nil, errors.Newf(errors.ExecutionError, "argument %d of '%s' is not a value", index, name)
		}

		arg, err := compileExpression(value, input, set)
		if err != nil {
			compiled.release()
			return nil, errors.Wrapf(err, "argument %d of '%s'", index, name)
		}

		compiled.args = append(compiled.args, arg)
	}

	return compiled, nil
}

func literalScalar(lit *substraitpb.Expression_Literal) (scalar.Scalar, error) {
	switch value := lit.GetLiteralType().(type) {
	case *substraitpb.Expression_Literal_Boolean:
		return scalar.NewBooleanScalar(value.Boolean), nil
	case *substraitpb.Expression_Literal_I8:
		return scalar.NewInt8Scalar(int8(value.I8)), nil
	case *substraitpb.Expression_Literal_I16:
		return scalar.NewInt16Scalar(int16(value.I16)), nil
	case *substraitpb.Expression_Literal_I32:
		return scalar.NewInt32Scalar(value.I32), nil
	case *substraitpb.Expression_Literal_I64:
		return scalar.NewInt64Scalar(value.I64), nil
	case *substraitpb.Expression_Literal_Fp32:
		return scalar.NewFloat32Scalar(value.Fp32), nil
	case *substraitpb.Expression_Literal_Fp64:
		return scalar.NewFloat64Scalar(value.Fp64), nil
	case *substraitpb.Expression_Literal_String_:
		return scalar.NewStringScalar(value.String_), nil
	}

	return nil, errors.Newf(errors.ExecutionError, "literal %T is not supported", lit.GetLiteralType())
}

// toArray materializes a datum as an array of rows values.
func toArray(datum compute.Datum, rows int64, mem memory.Allocator) (arrow.Array, error) {
	switch d := datum.(type) {
	case *compute.ArrayDatum:
		return d.MakeArray(), nil
	case *compute.ScalarDatum:
		return scalar.MakeArrayFromScalar(d.Value, int(rows), mem)
	}

	return nil, errors.Newf(errors.ExecutionError, "unexpected %s result", datum.Kind())
}

func expressionName(index int) string {
	return fmt.Sprintf("expr_%d", index)
}
