package engine

import (
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/errors"
	substraitpb "github.com/substrait-io/substrait-go/proto"
	"github.com/substrait-io/substrait-go/proto/extensions"
	gproto "google.golang.org/protobuf/proto"
	"vitess.io/vitess/go/vt/sqlparser"
)

const (
	comparisonFunctionsURI = "https://github.com/substrait-io/substrait/blob/main/extensions/functions_comparison.yaml"
	booleanFunctionsURI    = "https://github.com/substrait-io/substrait/blob/main/extensions/functions_boolean.yaml"
)

// PhysicalRelation is a table the planner can read from.
type PhysicalRelation struct {
	name   string
	schema *arrow.Schema
}

func (pr *PhysicalRelation) createLookup() map[string]int32 {
	lookup := map[string]int32{}
	for index, field := range pr.schema.Fields() {
		lookup[field.Name] = int32(index)
	}

	return lookup
}

type PhysicalRelationResolver func(name string) (*arrow.Schema, error)

// CatalogResolver resolves relations against the tables of a catalog.
func CatalogResolver(catalog Catalog) PhysicalRelationResolver {
	return func(name string) (*arrow.Schema, error) {
		table, ok := catalog.Lookup(name)
		if !ok {
			return nil, errors.Newf(errors.ExecutionError, "table '%s' is not registered", name)
		}

		return table.Schema(), nil
	}
}

// Plan translates a single-table SELECT into serialized Substrait plan bytes.
// It supports column lists and *, WHERE with comparisons, AND, OR, NOT and
// IS [NOT] NULL, and LIMIT with an optional OFFSET.
func Plan(resolver PhysicalRelationResolver, sql string) ([]byte, error) {
	p, err := BuildPlan(resolver, sql)
	if err != nil {
		return nil, err
	}

	bytes, err := gproto.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(errors.WrapCode(err, errors.ExecutionError), "encoding substrait plan")
	}

	return bytes, nil
}

func BuildPlan(resolver PhysicalRelationResolver, sql string) (*substraitpb.Plan, error) {
	statement, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, errors.Wrap(errors.WrapCode(err, errors.InvalidArgument), "parsing sql")
	}

	stm, ok := statement.(*sqlparser.Select)
	if !ok {
		return nil, errors.Newf(errors.Unsupported, "statement %T is not supported", statement)
	}

	builder := newPlanBuilder()

	scan, pr, err := handleFrom(resolver, stm.From)
	if err != nil {
		return nil, err
	}

	lookup := pr.createLookup()
	rel := scan

	if stm.Where != nil {
		condition, err := builder.toCondition(lookup, stm.Where.Expr)
		if err != nil {
			return nil, err
		}

		rel = &substraitpb.Rel{RelType: &substraitpb.Rel_Filter{Filter: &substraitpb.FilterRel{
			Input:     rel,
			Condition: condition,
		}}}
	}

	rootNames, rel, err := handleProjection(rel, pr, lookup, stm.SelectExprs)
	if err != nil {
		return nil, err
	}

	if stm.Limit != nil {
		rel, err = handleLimit(rel, stm.Limit)
		if err != nil {
			return nil, err
		}
	}

	return builder.plan(rel, rootNames), nil
}

func handleFrom(resolver PhysicalRelationResolver, from []sqlparser.TableExpr) (*substraitpb.Rel, *PhysicalRelation, error) {
	if len(from) != 1 {
		return nil, nil, errors.Newf(errors.Unsupported, "expecting exactly one table, got: %d", len(from))
	}

	aliased, ok := from[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return nil, nil, errors.Newf(errors.Unsupported, "table expression %T is not supported", from[0])
	}

	tableName, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return nil, nil, errors.Newf(errors.Unsupported, "table expression %T is not supported", aliased.Expr)
	}

	name := tableName.Name.String()
	schema, err := resolver(name)
	if err != nil {
		return nil, nil, err
	}

	baseSchema, err := toNamedStruct(schema)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "table '%s'", name)
	}

	scan := &substraitpb.Rel{RelType: &substraitpb.Rel_Read{Read: &substraitpb.ReadRel{
		BaseSchema: baseSchema,
		ReadType: &substraitpb.ReadRel_NamedTable_{NamedTable: &substraitpb.ReadRel_NamedTable{
			Names: []string{name},
		}},
	}}}

	return scan, &PhysicalRelation{name: name, schema: schema}, nil
}

// handleProjection emits the selected columns after the input columns, the
// way a Substrait project does, and keeps only the former.
func handleProjection(input *substraitpb.Rel, pr *PhysicalRelation, lookup map[string]int32, selectExprs sqlparser.SelectExprs) ([]string, *substraitpb.Rel, error) {
	if len(selectExprs) == 1 {
		if _, ok := selectExprs[0].(*sqlparser.StarExpr); ok {
			names := make([]string, pr.schema.NumFields())
			for index, field := range pr.schema.Fields() {
				names[index] = field.Name
			}

			return names, input, nil
		}
	}

	inputColumns := int32(pr.schema.NumFields())
	rootNames := make([]string, 0, len(selectExprs))
	expressions := make([]*substraitpb.Expression, 0, len(selectExprs))
	mapping := make([]int32, 0, len(selectExprs))
	for index, e := range selectExprs {
		column, ok := e.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, nil, errors.Newf(errors.Unsupported, "select expression %T is not supported", e)
		}

		colName, ok := column.Expr.(*sqlparser.ColName)
		if !ok {
			return nil, nil, errors.Newf(errors.Unsupported, "select expression %s is not supported", sqlparser.String(column.Expr))
		}

		ref, err := fieldReference(lookup, colName)
		if err != nil {
			return nil, nil, err
		}

		name := colName.Name.String()
		if !column.As.IsEmpty() {
			name = column.As.String()
		}

		rootNames = append(rootNames, name)
		expressions = append(expressions, ref)
		mapping = append(mapping, inputColumns+int32(index))
	}

	project := &substraitpb.Rel{RelType: &substraitpb.Rel_Project{Project: &substraitpb.ProjectRel{
		Common: &substraitpb.RelCommon{EmitKind: &substraitpb.RelCommon_Emit_{Emit: &substraitpb.RelCommon_Emit{
			OutputMapping: mapping,
		}}},
		Input:       input,
		Expressions: expressions,
	}}}

	return rootNames, project, nil
}

func handleLimit(input *substraitpb.Rel, limit *sqlparser.Limit) (*substraitpb.Rel, error) {
	fetch := &substraitpb.FetchRel{Input: input, Count: -1}

	if limit.Rowcount != nil {
		count, err := integerLiteral(limit.Rowcount)
		if err != nil {
			return nil, errors.Wrap(err, "limit")
		}

		fetch.Count = count
	}

	if limit.Offset != nil {
		offset, err := integerLiteral(limit.Offset)
		if err != nil {
			return nil, errors.Wrap(err, "offset")
		}

		fetch.Offset = offset
	}

	return &substraitpb.Rel{RelType: &substraitpb.Rel_Fetch{Fetch: fetch}}, nil
}

func integerLiteral(e sqlparser.Expr) (int64, error) {
	literal, ok := e.(*sqlparser.Literal)
	if !ok || literal.Type != sqlparser.IntVal {
		return 0, errors.Newf(errors.Unsupported, "expecting an integer, got: %s", sqlparser.String(e))
	}

	value, err := strconv.ParseInt(literal.Val, 10, 64)
	if err != nil || value < 0 {
		return 0, errors.Newf(errors.InvalidArgument, "expecting a non-negative integer, got: %s", literal.Val)
	}

	return value, nil
}

func fieldReference(lookup map[string]int32, colName *sqlparser.ColName) (*substraitpb.Expression, error) {
	index, ok := lookup[colName.Name.String()]
	if !ok {
		return nil, errors.Newf(errors.InvalidArgument, "unknown column '%s'", colName.Name.String())
	}

	return &substraitpb.Expression{RexType: &substraitpb.Expression_Selection{Selection: &substraitpb.Expression_FieldReference{
		ReferenceType: &substraitpb.Expression_FieldReference_DirectReference{DirectReference: &substraitpb.Expression_ReferenceSegment{
			ReferenceType: &substraitpb.Expression_ReferenceSegment_StructField_{StructField: &substraitpb.Expression_ReferenceSegment_StructField{
				Field: index,
			}},
		}},
		RootType: &substraitpb.Expression_FieldReference_RootReference_{RootReference: &substraitpb.Expression_FieldReference_RootReference{}},
	}}}, nil
}

// planBuilder collects the extension declarations a plan refers to.
type planBuilder struct {
	uris      map[string]uint32
	anchors   map[string]uint32
	extension []*extensions.SimpleExtensionDeclaration
	uriList   []*extensions.SimpleExtensionURI
}

func newPlanBuilder() *planBuilder {
	return &planBuilder{uris: map[string]uint32{}, anchors: map[string]uint32{}}
}

func (builder *planBuilder) functionAnchor(uri string, name string) uint32 {
	if anchor, ok := builder.anchors[name]; ok {
		return anchor
	}

	uriAnchor, ok := builder.uris[uri]
	if !ok {
		uriAnchor = uint32(len(builder.uris) + 1)
		builder.uris[uri] = uriAnchor
		builder.uriList = append(builder.uriList, &extensions.SimpleExtensionURI{ExtensionUriAnchor: uriAnchor, Uri: uri})
	}

	anchor := uint32(len(builder.anchors) + 1)
	builder.anchors[name] = anchor
	builder.extension = append(builder.extension, &extensions.SimpleExtensionDeclaration{
		MappingType: &extensions.SimpleExtensionDeclaration_ExtensionFunction_{ExtensionFunction: &extensions.SimpleExtensionDeclaration_ExtensionFunction{
			ExtensionUriReference: uriAnchor,
			FunctionAnchor:        anchor,
			Name:                  name,
		}},
	})

	return anchor
}

func (builder *planBuilder) plan(rel *substraitpb.Rel, names []string) *substraitpb.Plan {
	return &substraitpb.Plan{
		ExtensionUris: builder.uriList,
		Extensions:    builder.extension,
		Relations: []*substraitpb.PlanRel{{RelType: &substraitpb.PlanRel_Root{Root: &substraitpb.RelRoot{
			Input: rel,
			Names: names,
		}}}},
	}
}

func (builder *planBuilder) call(uri string, name string, args ...*substraitpb.Expression) *substraitpb.Expression {
	arguments := make([]*substraitpb.FunctionArgument, len(args))
	for index, arg := range args {
		arguments[index] = &substraitpb.FunctionArgument{ArgType: &substraitpb.FunctionArgument_Value{Value: arg}}
	}

	return &substraitpb.Expression{RexType: &substraitpb.Expression_ScalarFunction_{ScalarFunction: &substraitpb.Expression_ScalarFunction{
		FunctionReference: builder.functionAnchor(uri, name),
		Arguments:         arguments,
		OutputType: &substraitpb.Type{Kind: &substraitpb.Type_Bool{Bool: &substraitpb.Type_Boolean{
			Nullability: substraitpb.Type_NULLABILITY_NULLABLE,
		}}},
	}}}
}

var comparisons = map[sqlparser.ComparisonExprOperator]string{
	sqlparser.EqualOp:        "equal:any_any",
	sqlparser.NotEqualOp:     "not_equal:any_any",
	sqlparser.LessThanOp:     "lt:any_any",
	sqlparser.LessEqualOp:    "lte:any_any",
	sqlparser.GreaterThanOp:  "gt:any_any",
	sqlparser.GreaterEqualOp: "gte:any_any",
}

func (builder *planBuilder) toCondition(lookup map[string]int32, sqlExpr sqlparser.Expr) (*substraitpb.Expression, error) {
	switch condition := sqlExpr.(type) {
	case *sqlparser.ComparisonExpr:
		name, ok := comparisons[condition.Operator]
		if !ok {
			return nil, errors.Newf(errors.Unsupported, "comparison %s is not supported", sqlparser.String(condition))
		}

		left, err := toArg(lookup, condition.Left)
		if err != nil {
			return nil, err
		}

		right, err := toArg(lookup, condition.Right)
		if err != nil {
			return nil, err
		}

		return builder.call(comparisonFunctionsURI, name, left, right), nil
	case *sqlparser.AndExpr:
		return builder.binary(lookup, booleanFunctionsURI, "and:bool", condition.Left, condition.Right)
	case *sqlparser.OrExpr:
		return builder.binary(lookup, booleanFunctionsURI, "or:bool", condition.Left, condition.Right)
	case *sqlparser.NotExpr:
		inner, err := builder.toCondition(lookup, condition.Expr)
		if err != nil {
			return nil, err
		}

		return builder.call(booleanFunctionsURI, "not:bool", inner), nil
	case *sqlparser.IsExpr:
		arg, err := toArg(lookup, condition.Left)
		if err != nil {
			return nil, err
		}

		switch condition.Right {
		case sqlparser.IsNullOp:
			return builder.call(comparisonFunctionsURI, "is_null:any", arg), nil
		case sqlparser.IsNotNullOp:
			return builder.call(comparisonFunctionsURI, "is_not_null:any", arg), nil
		}
	case *sqlparser.ColName, sqlparser.BoolVal:
		return toArg(lookup, condition)
	}

	return nil, errors.Newf(errors.Unsupported, "condition %s is not supported", sqlparser.String(sqlExpr))
}

func (builder *planBuilder) binary(lookup map[string]int32, uri string, name string, left sqlparser.Expr, right sqlparser.Expr) (*substraitpb.Expression, error) {
	l, err := builder.toCondition(lookup, left)
	if err != nil {
		return nil, err
	}

	r, err := builder.toCondition(lookup, right)
	if err != nil {
		return nil, err
	}

	return builder.call(uri, name, l, r), nil
}

func toArg(lookup map[string]int32, sqlExpr sqlparser.Expr) (*substraitpb.Expression, error) {
	switch value := sqlExpr.(type) {
	case *sqlparser.Literal:
		switch value.Type {
		case sqlparser.StrVal:
			return literalExpression(&substraitpb.Expression_Literal{LiteralType: &substraitpb.Expression_Literal_String_{String_: value.Val}}), nil
		case sqlparser.IntVal:
			i, err := strconv.ParseInt(value.Val, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(errors.WrapCode(err, errors.InvalidArgument), "integer literal %s", value.Val)
			}

			return literalExpression(&substraitpb.Expression_Literal{LiteralType: &substraitpb.Expression_Literal_I64{I64: i}}), nil
		case sqlparser.FloatVal, sqlparser.DecimalVal:
			f, err := strconv.ParseFloat(value.Val, 64)
			if err != nil {
				return nil, errors.Wrapf(errors.WrapCode(err, errors.InvalidArgument), "float literal %s", value.Val)
			}

			return literalExpression(&substraitpb.Expression_Literal{LiteralType: &substraitpb.Expression_Literal_Fp64{Fp64: f}}), nil
		}
	case sqlparser.BoolVal:
		return literalExpression(&substraitpb.Expression_Literal{LiteralType: &substraitpb.Expression_Literal_Boolean{Boolean: bool(value)}}), nil
	case *sqlparser.ColName:
		return fieldReference(lookup, value)
	}

	return nil, errors.Newf(errors.Unsupported, "expression %s is not supported", sqlparser.String(sqlExpr))
}

func literalExpression(literal *substraitpb.Expression_Literal) *substraitpb.Expression {
	return &substraitpb.Expression{RexType: &substraitpb.Expression_Literal_{Literal: literal}}
}
