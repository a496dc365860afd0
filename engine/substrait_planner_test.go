package engine

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
)

func customerResolver(name string) (*arrow.Schema, error) {
	if name != "customer" {
		return nil, errors.Newf(errors.ExecutionError, "table '%s' is not registered", name)
	}

	return arrow.NewSchema([]arrow.Field{
		{Name: "custkey", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "address", Type: arrow.StructOf(
			arrow.Field{Name: "city", Type: arrow.BinaryTypes.String},
			arrow.Field{Name: "zip", Type: arrow.PrimitiveTypes.Uint32, Nullable: true},
		)},
		{Name: "tags", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	}, nil), nil
}

func TestBuildPlan(t *testing.T) {
	p, err := BuildPlan(customerResolver, "select name, custkey as id from customer where custkey > 10 and name is not null limit 5")
	require.NoError(t, err)

	root := p.GetRelations()[0].GetRoot()
	require.Equal(t, []string{"name", "id"}, root.GetNames())

	fetch := root.GetInput().GetFetch()
	require.NotNil(t, fetch)
	require.EqualValues(t, 5, fetch.GetCount())
	require.EqualValues(t, 0, fetch.GetOffset())

	project := fetch.GetInput().GetProject()
	require.NotNil(t, project)
	require.Equal(t, []int32{4, 5}, project.GetCommon().GetEmit().GetOutputMapping())
	require.Len(t, project.GetExpressions(), 2)

	filter := project.GetInput().GetFilter()
	require.NotNil(t, filter)
	require.NotNil(t, filter.GetCondition().GetScalarFunction())

	read := filter.GetInput().GetRead()
	require.Equal(t, []string{"customer"}, read.GetNamedTable().GetNames())
	require.Equal(t, []string{"custkey", "name", "address", "city", "zip", "tags"}, read.GetBaseSchema().GetNames())
	require.Len(t, read.GetBaseSchema().GetStruct().GetTypes(), 4)

	names := map[string]bool{}
	for _, declaration := range p.GetExtensions() {
		names[declaration.GetExtensionFunction().GetName()] = true
	}

	require.Equal(t, map[string]bool{"gt:any_any": true, "and:bool": true, "is_not_null:any": true}, names)
	require.Len(t, p.GetExtensionUris(), 2)
}

func TestBuildPlanSelectStar(t *testing.T) {
	p, err := BuildPlan(customerResolver, "select * from customer")
	require.NoError(t, err)

	root := p.GetRelations()[0].GetRoot()
	require.Equal(t, []string{"custkey", "name", "address", "tags"}, root.GetNames())
	require.NotNil(t, root.GetInput().GetRead())
	require.Empty(t, p.GetExtensions())
}

func TestBuildPlanRejects(t *testing.T) {
	tests := map[string]struct {
		sql  string
		code errors.Code
	}{
		"not a select":     {sql: "insert into customer values (1)", code: errors.Unsupported},
		"syntax error":     {sql: "select from where", code: errors.InvalidArgument},
		"unknown table":    {sql: "select * from orders", code: errors.ExecutionError},
		"unknown column":   {sql: "select nation from customer", code: errors.InvalidArgument},
		"join":             {sql: "select * from customer, customer", code: errors.Unsupported},
		"computed select":  {sql: "select custkey + 1 from customer", code: errors.Unsupported},
		"unsupported like": {sql: "select * from customer where name like 'a%'", code: errors.Unsupported},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := BuildPlan(customerResolver, test.sql)
			require.Error(t, err)
			require.Equal(t, test.code, errors.CodeOf(err), err.Error())
		})
	}
}
