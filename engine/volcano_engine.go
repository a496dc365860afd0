package engine

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/exsql-io/go-querybridge/common"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/store"
	substraitpb "github.com/substrait-io/substrait-go/proto"
	gproto "google.golang.org/protobuf/proto"
)

type VolcanoEngine struct {
	options Options
}

func NewVolcanoEngine(options Options) *VolcanoEngine {
	return &VolcanoEngine{options: options.withDefaults()}
}

func (engine *VolcanoEngine) Available() bool {
	return true
}

// Execute decodes plan, resolves every table it reads against catalog and
// opens the operator tree. Nothing is read until the cursor is pulled.
func (engine *VolcanoEngine) Execute(ctx context.Context, plan []byte, catalog Catalog) (*Cursor, error) {
	if len(plan) == 0 {
		return nil, errors.New(errors.InvalidArgument, "plan is empty")
	}

	p := &substraitpb.Plan{}
	if err := gproto.Unmarshal(plan, p); err != nil {
		return nil, errors.Wrap(errors.WrapCode(err, errors.ExecutionError), "decoding substrait plan")
	}

	rel, names, err := extractRoot(p)
	if err != nil {
		return nil, err
	}

	converter := &planConverter{
		ctx:       engine.computeContext(ctx),
		catalog:   catalog,
		functions: newFunctionSet(p),
		batchSize: engine.options.BatchSize,
	}

	operator, _, err := converter.convert(rel)
	if err != nil {
		return nil, err
	}

	// a bare scan of an empty table still reports its columns
	scan, bare := operator.(*VolcanoScan)
	if bare {
		scan.emitEmpty = true
	}

	if err := operator.Open(); err != nil {
		_ = operator.Close()
		return nil, errors.WrapCode(err, errors.ExecutionError)
	}

	cursor := newCursor(operator, names)
	cursor.keepEmpty = bare
	return cursor, nil
}

// computeContext evaluates kernels on the calling goroutine with the
// configured allocator.
func (engine *VolcanoEngine) computeContext(ctx context.Context) context.Context {
	execCtx := compute.DefaultExecCtx()
	execCtx.NumParallel = 1

	return compute.WithAllocator(compute.SetExecCtx(ctx, execCtx), engine.options.Allocator)
}

func extractRoot(p *substraitpb.Plan) (*substraitpb.Rel, []string, error) {
	if len(p.GetRelations()) != 1 {
		return nil, nil, errors.Newf(errors.ExecutionError, "expecting only one relation part of the plan got: %d", len(p.GetRelations()))
	}

	relation := p.GetRelations()[0]
	if root := relation.GetRoot(); root != nil {
		if root.GetInput() == nil {
			return nil, nil, errors.New(errors.ExecutionError, "plan root has no input")
		}

		return root.GetInput(), root.GetNames(), nil
	}

	if rel := relation.GetRel(); rel != nil {
		return rel, nil, nil
	}

	return nil, nil, errors.New(errors.ExecutionError, "plan relation is empty")
}

type planConverter struct {
	ctx       context.Context
	catalog   Catalog
	functions functionSet
	batchSize int64
}

// convert builds the operator for rel and returns it with its output schema.
// On error nothing is left open.
func (converter *planConverter) convert(rel *substraitpb.Rel) (VolcanoOperator, *arrow.Schema, error) {
	var operator VolcanoOperator
	var schema *arrow.Schema
	var relCommon *substraitpb.RelCommon
	var err error

	switch r := rel.GetRelType().(type) {
	case *substraitpb.Rel_Read:
		relCommon = r.Read.GetCommon()
		operator, schema, err = converter.convertRead(r.Read)
	case *substraitpb.Rel_Filter:
		relCommon = r.Filter.GetCommon()
		operator, schema, err = converter.convertFilter(r.Filter)
	case *substraitpb.Rel_Project:
		relCommon = r.Project.GetCommon()
		operator, schema, err = converter.convertProject(r.Project)
	case *substraitpb.Rel_Fetch:
		relCommon = r.Fetch.GetCommon()
		operator, schema, err = converter.convertFetch(r.Fetch)
	default:
		return nil, nil, errors.Newf(errors.ExecutionError, "relation %T is not supported", rel.GetRelType())
	}

	if err != nil {
		return nil, nil, err
	}

	return converter.applyEmit(operator, schema, relCommon.GetEmit())
}

func (converter *planConverter) convertRead(read *substraitpb.ReadRel) (VolcanoOperator, *arrow.Schema, error) {
	namedTable := read.GetNamedTable()
	if namedTable == nil || len(namedTable.GetNames()) == 0 {
		return nil, nil, errors.New(errors.ExecutionError, "only named table reads are supported")
	}

	if read.GetProjection() != nil {
		return nil, nil, errors.New(errors.ExecutionError, "read projections are not supported")
	}

	name := namedTable.GetNames()[len(namedTable.GetNames())-1]
	table, ok := converter.catalog.Lookup(name)
	if !ok {
		return nil, nil, errors.Newf(errors.ExecutionError, "table '%s' is not registered", name)
	}

	if baseSchema := read.GetBaseSchema().GetStruct(); baseSchema != nil && len(baseSchema.GetTypes()) != int(table.NumCols()) {
		return nil, nil, errors.Newf(errors.ExecutionError, "plan reads %d columns from '%s' which has %d", len(baseSchema.GetTypes()), name, table.NumCols())
	}

	var operator VolcanoOperator = newVolcanoScan(converter.ctx, table, converter.batchSize)
	if read.GetFilter() == nil {
		return operator, table.Schema(), nil
	}

	return converter.filter(operator, table.Schema(), read.GetFilter())
}

func (converter *planConverter) convertFilter(filter *substraitpb.FilterRel) (VolcanoOperator, *arrow.Schema, error) {
	if filter.GetInput() == nil {
		return nil, nil, errors.New(errors.ExecutionError, "filter has no input")
	}

	child, schema, err := converter.convert(filter.GetInput())
	if err != nil {
		return nil, nil, err
	}

	return converter.filter(child, schema, filter.GetCondition())
}

func (converter *planConverter) filter(child VolcanoOperator, schema *arrow.Schema, condition *substraitpb.Expression) (VolcanoOperator, *arrow.Schema, error) {
	predicate, err := compileExpression(condition, schema, converter.functions)
	if err != nil {
		_ = child.Close()
		return nil, nil, errors.Wrap(err, "filter condition")
	}

	if dt := predicate.field("").Type; dt.ID() != arrow.BOOL {
		predicate.release()
		_ = child.Close()
		return nil, nil, errors.Newf(errors.ExecutionError, "filter condition is %s, not boolean", dt)
	}

	ctx := converter.ctx
	operator := newVolcanoFilter(child, func(batch common.ColumnarBatch) (common.ColumnarBatch, error) {
		defer batch.Release()

		selector, err := predicate.evaluate(ctx, batch)
		if err != nil {
			return nil, err
		}

		defer selector.Release()

		switch dtm := selector.(type) {
		case *compute.ScalarDatum:
			if b, ok := dtm.Value.(*scalar.Boolean); ok && b.Valid && b.Value {
				batch.Retain()
				return batch, nil
			}

			return batch.NewSlice(0, 0), nil
		case *compute.ArrayDatum:
			mask := dtm.MakeArray()
			defer mask.Release()

			filtered, err := compute.FilterRecordBatch(ctx, batch, mask, compute.DefaultFilterOptions())
			if err != nil {
				return nil, errors.Wrap(errors.WrapCode(err, errors.ExecutionError), "filtering batch")
			}

			return filtered, nil
		}

		return nil, errors.Newf(errors.ExecutionError, "filter condition produced %s", selector.Kind())
	}, predicate.release)

	return operator, schema, nil
}

func (converter *planConverter) convertProject(project *substraitpb.ProjectRel) (VolcanoOperator, *arrow.Schema, error) {
	if project.GetInput() == nil {
		return nil, nil, errors.New(errors.ExecutionError, "project has no input")
	}

	child, input, err := converter.convert(project.GetInput())
	if err != nil {
		return nil, nil, err
	}

	expressions := make([]expression, 0, len(project.GetExpressions()))
	release := func() {
		for _, e := range expressions {
			e.release()
		}
	}

	fields := append([]arrow.Field{}, input.Fields()...)
	for index, e := range project.GetExpressions() {
		compiled, err := compileExpression(e, input, converter.functions)
		if err != nil {
			release()
			_ = child.Close()
			return nil, nil, errors.Wrapf(err, "project expression %d", index)
		}

		expressions = append(expressions, compiled)
		fields = append(fields, compiled.field(expressionName(index)))
	}

	schema := arrow.NewSchema(fields, nil)
	ctx := converter.ctx
	operator := newVolcanoProjection(child, func(batch common.ColumnarBatch) (common.ColumnarBatch, error) {
		defer batch.Release()

		columns := make([]arrow.Array, 0, len(fields))
		columns = append(columns, batch.Columns()...)

		computed := make([]arrow.Array, 0, len(expressions))
		defer func() {
			for _, column := range computed {
				column.Release()
			}
		}()

		for _, e := range expressions {
			datum, err := e.evaluate(ctx, batch)
			if err != nil {
				return nil, err
			}

			column, err := toArray(datum, batch.NumRows(), compute.GetAllocator(ctx))
			datum.Release()
			if err != nil {
				return nil, err
			}

			computed = append(computed, column)
		}

		columns = append(columns, computed...)
		return array.NewRecord(schema, columns, batch.NumRows()), nil
	}, release)

	return operator, schema, nil
}

func (converter *planConverter) convertFetch(fetch *substraitpb.FetchRel) (VolcanoOperator, *arrow.Schema, error) {
	if fetch.GetInput() == nil {
		return nil, nil, errors.New(errors.ExecutionError, "fetch has no input")
	}

	if fetch.GetOffset() < 0 {
		return nil, nil, errors.Newf(errors.ExecutionError, "fetch offset %d is negative", fetch.GetOffset())
	}

	child, schema, err := converter.convert(fetch.GetInput())
	if err != nil {
		return nil, nil, err
	}

	return newVolcanoFetch(child, fetch.GetOffset(), fetch.GetCount()), schema, nil
}

// applyEmit reorders or drops output columns according to the emit mapping of
// a relation. A direct emit leaves the operator untouched.
func (converter *planConverter) applyEmit(operator VolcanoOperator, schema *arrow.Schema, emit *substraitpb.RelCommon_Emit) (VolcanoOperator, *arrow.Schema, error) {
	if emit == nil {
		return operator, schema, nil
	}

	mapping := make([]int, len(emit.GetOutputMapping()))
	fields := make([]arrow.Field, len(mapping))
	for index, id := range emit.GetOutputMapping() {
		if id < 0 || int(id) >= schema.NumFields() {
			_ = operator.Close()
			return nil, nil, errors.Newf(errors.ExecutionError, "emit index %d is out of range for %d columns", id, schema.NumFields())
		}

		mapping[index] = int(id)
		fields[index] = schema.Field(int(id))
	}

	emitted := arrow.NewSchema(fields, nil)
	return newVolcanoProjection(operator, func(batch common.ColumnarBatch) (common.ColumnarBatch, error) {
		defer batch.Release()

		columns := make([]arrow.Array, len(mapping))
		for index, id := range mapping {
			columns[index] = batch.Column(id)
		}

		return array.NewRecord(emitted, columns, batch.NumRows()), nil
	}, nil), emitted, nil
}

type VolcanoScan struct {
	ctx       context.Context
	table     arrow.Record
	batchSize int64
	source    common.CloseableIterator

	// emitEmpty yields the table once as a zero-row batch when it has no rows.
	emitEmpty bool
	emitted   bool
}

func newVolcanoScan(ctx context.Context, table arrow.Record, batchSize int64) *VolcanoScan {
	return &VolcanoScan{ctx: ctx, table: table, batchSize: batchSize}
}

func (scan *VolcanoScan) Open() error {
	if scan.source == nil {
		scan.source = store.NewRecordIterator(scan.table, scan.batchSize)
	}

	return nil
}

func (scan *VolcanoScan) Next() (common.ColumnarBatch, error) {
	if scan.source == nil {
		return nil, errors.New(errors.ExecutionError, "scan is not open")
	}

	if err := scan.ctx.Err(); err != nil {
		return nil, errors.WrapCode(err, errors.ExecutionError)
	}

	if scan.source.Next() {
		batch := scan.source.Value()
		batch.Retain()
		return batch, nil
	}

	if err := scan.source.Err(); err != nil {
		return nil, errors.WrapCode(err, errors.ExecutionError)
	}

	if scan.emitEmpty && !scan.emitted && scan.table.NumRows() == 0 {
		scan.emitted = true
		scan.table.Retain()
		return scan.table, nil
	}

	return nil, common.EOB
}

func (scan *VolcanoScan) Close() error {
	if scan.source != nil {
		scan.source.Close()
		scan.source = nil
	}

	return nil
}

type VolcanoFilter struct {
	child     VolcanoOperator
	condition func(common.ColumnarBatch) (common.ColumnarBatch, error)
	release   func()
}

func newVolcanoFilter(child VolcanoOperator, condition func(common.ColumnarBatch) (common.ColumnarBatch, error), release func()) *VolcanoFilter {
	return &VolcanoFilter{child: child, condition: condition, release: release}
}

func (filter *VolcanoFilter) Open() error {
	return filter.child.Open()
}

func (filter *VolcanoFilter) Next() (common.ColumnarBatch, error) {
	batch, err := filter.child.Next()
	if err != nil {
		return nil, err
	}

	return filter.condition(batch)
}

func (filter *VolcanoFilter) Close() error {
	if filter.release != nil {
		filter.release()
		filter.release = nil
	}

	return filter.child.Close()
}

type VolcanoProjection struct {
	child   VolcanoOperator
	project func(common.ColumnarBatch) (common.ColumnarBatch, error)
	release func()
}

func newVolcanoProjection(child VolcanoOperator, project func(common.ColumnarBatch) (common.ColumnarBatch, error), release func()) *VolcanoProjection {
	return &VolcanoProjection{child: child, project: project, release: release}
}

func (projection *VolcanoProjection) Open() error {
	return projection.child.Open()
}

func (projection *VolcanoProjection) Next() (common.ColumnarBatch, error) {
	batch, err := projection.child.Next()
	if err != nil {
		return nil, err
	}

	return projection.project(batch)
}

func (projection *VolcanoProjection) Close() error {
	if projection.release != nil {
		projection.release()
		projection.release = nil
	}

	return projection.child.Close()
}

// VolcanoFetch skips offset rows and then passes at most count rows. A
// negative count passes everything.
type VolcanoFetch struct {
	child   VolcanoOperator
	skip    int64
	count   int64
	emitted int64
}

func newVolcanoFetch(child VolcanoOperator, offset int64, count int64) *VolcanoFetch {
	return &VolcanoFetch{child: child, skip: offset, count: count}
}

func (fetch *VolcanoFetch) Open() error {
	return fetch.child.Open()
}

func (fetch *VolcanoFetch) Next() (common.ColumnarBatch, error) {
	for {
		if fetch.count >= 0 && fetch.emitted >= fetch.count {
			return nil, common.EOB
		}

		batch, err := fetch.child.Next()
		if err != nil {
			return nil, err
		}

		rows := batch.NumRows()
		start := int64(0)
		if fetch.skip > 0 {
			if fetch.skip >= rows {
				fetch.skip -= rows
				batch.Release()
				continue
			}

			start = fetch.skip
			fetch.skip = 0
		}

		end := rows
		if fetch.count >= 0 && end-start > fetch.count-fetch.emitted {
			end = start + fetch.count - fetch.emitted
		}

		fetch.emitted += end - start
		if start == 0 && end == rows {
			return batch, nil
		}

		sliced := batch.NewSlice(start, end)
		batch.Release()
		return sliced, nil
	}
}

func (fetch *VolcanoFetch) Close() error {
	return fetch.child.Close()
}
