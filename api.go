package main

import (
	"bytes"
	"io"
	"net/http"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/exsql-io/go-querybridge/arrowbridge"
	"github.com/exsql-io/go-querybridge/bridge"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/flightsvc"
	"github.com/exsql-io/go-querybridge/logger"
	"github.com/exsql-io/go-querybridge/metrics"
	"github.com/exsql-io/go-querybridge/services"
	"github.com/exsql-io/go-querybridge/store"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
)

// api serves the HTTP surface of the daemon over one bridge session.
type api struct {
	session *bridge.Session
	kind    flightsvc.AcceleratorKind
	remote  *flightsvc.Client
	leaves  map[string]*services.Leaf
}

type columnResponse struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type tableResponse struct {
	Name    string           `json:"name"`
	Columns []columnResponse `json:"columns"`
}

type healthResponse struct {
	EngineAvailable bool   `json:"engineAvailable"`
	Accelerator     string `json:"accelerator"`
	Tables          int    `json:"tables"`
	Exports         int    `json:"outstandingExports"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newRouter(api *api) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/tables", api.listTables)
	e.PUT("/tables/:name", api.putTable)
	e.DELETE("/tables/:name", api.deleteTable)
	e.POST("/query", api.query)
	e.POST("/substrait", api.substrait)
	e.GET("/streams/:table/:key", api.getStreamValueByKey)
	e.GET("/health", api.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return e
}

func respond(c echo.Context, code int, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.JSONBlob(code, data)
}

func statusOf(err error) int {
	switch errors.CodeOf(err) {
	case errors.InvalidArgument, errors.SchemaMismatch:
		return http.StatusBadRequest
	case errors.ExecutionError:
		return http.StatusUnprocessableEntity
	case errors.Unsupported:
		return http.StatusNotImplemented
	case errors.OutOfMemory:
		return http.StatusInsufficientStorage
	case errors.InvalidHandle:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	logger.Get().Warn("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	return respond(c, statusOf(err), errorResponse{Error: errors.Diagnostic(err)})
}

func (api *api) listTables(c echo.Context) error {
	tables := []tableResponse{}
	for _, name := range api.session.Tables() {
		schema, err := api.session.Schema(name)
		if err != nil {
			// dropped since Tables was read
			continue
		}

		table := tableResponse{Name: name, Columns: []columnResponse{}}
		for _, field := range schema.Fields() {
			table.Columns = append(table.Columns, columnResponse{Name: field.Name, Type: field.Type.String(), Nullable: field.Nullable})
		}

		tables = append(tables, table)
	}

	return respond(c, http.StatusOK, tables)
}

// putTable registers the Arrow IPC stream in the request body.
func (api *api) putTable(c echo.Context) error {
	name := c.Param("name")
	reader, err := ipc.NewReader(c.Request().Body, ipc.WithAllocator(api.session.Allocator()))
	if err != nil {
		return fail(c, errors.Wrap(errors.WrapCode(err, errors.InvalidArgument), "reading arrow ipc stream"))
	}
	defer reader.Release()

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}

	if err := reader.Err(); err != nil && err != io.EOF {
		return fail(c, errors.Wrap(errors.WrapCode(err, errors.InvalidArgument), "reading arrow ipc stream"))
	}

	table, err := store.Concatenate(api.session.Allocator(), reader.Schema(), records)
	if err != nil {
		return fail(c, err)
	}
	defer table.Release()

	if err := api.session.RegisterRecord(name, table); err != nil {
		return fail(c, err)
	}

	if api.remote != nil {
		if err := api.remote.PushTable(c.Request().Context(), name, table); err != nil {
			return fail(c, err)
		}
	}

	return respond(c, http.StatusCreated, map[string]interface{}{"name": name, "rows": table.NumRows()})
}

func (api *api) deleteTable(c echo.Context) error {
	dropped, err := api.session.DropTable(c.Param("name"))
	if err != nil {
		return fail(c, err)
	}

	if !dropped {
		err := errors.Newf(errors.InvalidArgument, "table '%s' is not registered", c.Param("name"))
		return respond(c, http.StatusNotFound, errorResponse{Error: errors.Diagnostic(err)})
	}

	return c.NoContent(http.StatusNoContent)
}

// query plans the SQL select in the request body and returns its rows.
func (api *api) query(c echo.Context) error {
	sql, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, errors.WrapCode(err, errors.InvalidArgument))
	}

	plan, err := api.session.Plan(string(sql))
	if err != nil {
		return fail(c, err)
	}

	return api.execute(c, plan)
}

// substrait executes the serialized plan in the request body.
func (api *api) substrait(c echo.Context) error {
	plan, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, errors.WrapCode(err, errors.InvalidArgument))
	}

	return api.execute(c, plan)
}

func (api *api) execute(c echo.Context, plan []byte) error {
	if api.remote != nil {
		records, err := api.remote.Execute(c.Request().Context(), plan)
		if err != nil {
			return fail(c, err)
		}

		return writeRows(c, func() (arrow.Record, error) {
			if len(records) == 0 {
				return nil, nil
			}

			rec := records[0]
			records = records[1:]
			return rec, nil
		})
	}

	stream, err := api.session.Execute(c.Request().Context(), plan)
	if err != nil {
		return fail(c, err)
	}
	defer stream.Free()

	return writeRows(c, stream.NextRecord)
}

// writeRows streams the batches returned by next as one JSON array of row
// objects. next returns nil once drained and its records are released here.
func writeRows(c echo.Context, next func() (arrow.Record, error)) error {
	rec, err := next()
	if err != nil {
		return fail(c, err)
	}

	response := c.Response()
	response.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	response.WriteHeader(http.StatusOK)

	if _, err := response.Write([]byte("[")); err != nil {
		return err
	}

	first := true
	for rec != nil {
		rows, err := rowsJSON(rec)
		rec.Release()
		if err != nil {
			return err
		}

		if len(rows) > 0 {
			if !first {
				if _, err := response.Write([]byte(",")); err != nil {
					return err
				}
			}

			if _, err := response.Write(rows); err != nil {
				return err
			}

			first = false
			response.Flush()
		}

		rec, err = next()
		if err != nil {
			// the status line is gone, the truncated body signals the failure
			logger.Get().Warn("result stream failed", "path", c.Path(), "error", err)
			return nil
		}
	}

	_, err = response.Write([]byte("]"))
	return err
}

// rowsJSON renders rec as comma separated JSON objects, without the
// enclosing brackets.
func rowsJSON(rec arrow.Record) ([]byte, error) {
	data, err := rec.MarshalJSON()
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte("["))
	data = bytes.TrimSuffix(data, []byte("]"))

	return bytes.TrimSpace(data), nil
}

func (api *api) getStreamValueByKey(c echo.Context) error {
	leaf, ok := api.leaves[c.Param("table")]
	if !ok {
		return fail(c, errors.Newf(errors.InvalidArgument, "no stream feeds table '%s'", c.Param("table")))
	}

	value := leaf.Get([]byte(c.Param("key")))
	if value == nil {
		return c.NoContent(http.StatusNotFound)
	}

	return c.JSONBlob(http.StatusOK, value)
}

func (api *api) health(c echo.Context) error {
	return respond(c, http.StatusOK, healthResponse{
		EngineAvailable: api.session.EngineAvailable() || api.kind.Remote(),
		Accelerator:     string(api.kind),
		Tables:          len(api.session.Tables()),
		Exports:         arrowbridge.Outstanding(),
	})
}
