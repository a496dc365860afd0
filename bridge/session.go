// Package bridge is the Go API of the query bridge: sessions own an arena and
// a table registry, and execute plans into pull-based result streams.
//
// Every method is a boundary call. Panics raised underneath, including arena
// limit panics from arrow kernels, are recovered and returned as coded
// errors.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/exsql-io/go-querybridge/arena"
	"github.com/exsql-io/go-querybridge/arrowbridge"
	"github.com/exsql-io/go-querybridge/config"
	"github.com/exsql-io/go-querybridge/engine"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/logger"
	"github.com/exsql-io/go-querybridge/metrics"
	"github.com/exsql-io/go-querybridge/store"
	"github.com/google/uuid"
)

type Session struct {
	id       uuid.UUID
	config   config.Bridge
	arena    *arena.Arena
	registry *store.Registry
	engine   engine.Engine
	log      *slog.Logger

	mutex    sync.Mutex
	freed    bool
	reported int64
}

// NewSession allocates the session arena and takes a reference on the
// engine. It returns either a usable session or an error, never both.
func NewSession(cfg config.Bridge) (session *Session, err error) {
	defer recoverBoundary("create_session", &err)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := engine.Acquire(); err != nil {
		return nil, err
	}

	mem := arena.New(cfg.ArenaLimitBytes)
	arrowbridge.SetDebug(cfg.DebugLeases)

	session = &Session{
		id:       uuid.New(),
		config:   cfg,
		arena:    mem,
		registry: store.NewRegistry(),
		engine:   engine.New(engine.Options{Allocator: mem, BatchSize: cfg.BatchSize}),
	}
	session.log = logger.Get().With("session", session.id.String())

	metrics.Default.SessionsCreated.Inc()
	metrics.Default.SessionsActive.Inc()
	session.log.Debug("session created", "arenaLimit", cfg.ArenaLimitBytes, "batchSize", cfg.BatchSize)

	return session, nil
}

func (session *Session) ID() uuid.UUID {
	return session.id
}

// EngineAvailable is false when the library was built without an engine.
func (session *Session) EngineAvailable() bool {
	return session.engine.Available()
}

// Allocator is the session arena. Records built with it are accounted
// against the session limit.
func (session *Session) Allocator() *arena.Arena {
	return session.arena
}

// RegisterTable imports numCols columns of numRows rows described by the
// children of schema and installs them under name, replacing any previous
// table. The schema is borrowed. The arrays are consumed only on success.
func (session *Session) RegisterTable(name string, schema *cdata.CArrowSchema, columns []*cdata.CArrowArray, numCols int, numRows int64) (err error) {
	defer recoverBoundary("register_table", &err)

	if err := session.checkOpen(); err != nil {
		return err
	}

	if name == "" {
		return errors.New(errors.InvalidArgument, "table name is empty")
	}

	rec, err := arrowbridge.ImportTable(schema, columns, numCols, numRows)
	if err != nil {
		return errors.Wrapf(err, "register table '%s'", name)
	}
	defer rec.Release()

	return session.install(name, rec)
}

// RegisterRecord installs rec under name, replacing any previous table. The
// registry takes its own reference.
func (session *Session) RegisterRecord(name string, rec arrow.Record) (err error) {
	defer recoverBoundary("register_record", &err)

	if err := session.checkOpen(); err != nil {
		return err
	}

	return session.install(name, rec)
}

func (session *Session) install(name string, rec arrow.Record) error {
	if err := session.registry.Put(name, rec); err != nil {
		return err
	}

	metrics.Default.TablesRegistered.Inc()
	metrics.Default.RowsRegistered.Add(float64(rec.NumRows()))
	session.log.Debug("table registered", "table", name, "columns", rec.NumCols(), "rows", rec.NumRows())
	session.reportArena()

	return nil
}

// DropTable removes name from the registry. Streams already executed keep
// reading it.
func (session *Session) DropTable(name string) (bool, error) {
	if err := session.checkOpen(); err != nil {
		return false, err
	}

	dropped := session.registry.Drop(name)
	if dropped {
		session.log.Debug("table dropped", "table", name)
	}

	return dropped, nil
}

// Tables returns the sorted names of the registered tables.
func (session *Session) Tables() []string {
	return session.registry.Names()
}

// Schema returns the schema of the table registered under name.
func (session *Session) Schema(name string) (*arrow.Schema, error) {
	rec, ok := session.registry.Get(name)
	if !ok {
		return nil, errors.Newf(errors.InvalidArgument, "table '%s' is not registered", name)
	}
	defer rec.Release()

	return rec.Schema(), nil
}

// Execute decodes plan and resolves every table it reads against the tables
// registered right now. Later registrations are not seen by the stream.
func (session *Session) Execute(ctx context.Context, plan []byte) (stream *Stream, err error) {
	defer recoverBoundary("execute_plan", &err)

	if err := session.checkOpen(); err != nil {
		return nil, err
	}

	if len(plan) == 0 {
		return nil, errors.New(errors.InvalidArgument, "plan is empty")
	}

	start := time.Now()
	snapshot := session.registry.Snapshot()
	cursor, err := session.engine.Execute(ctx, plan, snapshot)
	if err != nil {
		snapshot.Release()
		return nil, err
	}
	metrics.Default.ExecuteLatency.Observe(time.Since(start).Seconds())

	stream = &Stream{
		session:  session,
		cursor:   cursor,
		snapshot: snapshot,
		state:    Active,
	}

	metrics.Default.StreamsActive.Inc()
	session.log.Debug("stream opened", "planBytes", len(plan))

	return stream, nil
}

// Plan translates a SQL select into Substrait plan bytes against the tables
// registered right now.
func (session *Session) Plan(sql string) (plan []byte, err error) {
	defer recoverBoundary("plan_sql", &err)

	if err := session.checkOpen(); err != nil {
		return nil, err
	}

	snapshot := session.registry.Snapshot()
	defer snapshot.Release()

	return engine.Plan(engine.CatalogResolver(snapshot), sql)
}

// Free releases every table, the engine reference and the arena. Freeing a
// session twice is a no-op.
func (session *Session) Free() {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	if session.freed {
		return
	}

	session.freed = true
	session.registry.Close()
	engine.Release()

	metrics.Default.SessionsActive.Dec()
	metrics.Default.ArenaBytes.Sub(float64(session.reported))
	session.reported = 0
	session.log.Debug("session freed", "arenaPeak", session.arena.Peak(), "arenaAllocated", session.arena.Allocated())
}

func (session *Session) checkOpen() error {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	if session.freed {
		return errors.New(errors.InvalidHandle, "session has been freed")
	}

	return nil
}

func (session *Session) reportArena() {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	current := session.arena.Allocated()
	metrics.Default.ArenaBytes.Add(float64(current - session.reported))
	session.reported = current
}

// recoverBoundary turns a panic into a coded error and counts every failed
// boundary call. It must be deferred directly.
func recoverBoundary(operation string, err *error) {
	if r := recover(); r != nil {
		*err = fromPanic(r)
		logger.Get().Warn("panic recovered at boundary", "operation", operation, "panic", fmt.Sprint(r))
	}

	if *err != nil {
		metrics.Default.BoundaryFailures.WithLabelValues(operation, string(errors.CodeOf(*err))).Inc()
	}
}

func fromPanic(r interface{}) error {
	switch v := r.(type) {
	case error:
		if errors.Is(v, errors.OutOfMemory) {
			return v
		}

		if strings.Contains(v.Error(), "out of memory") {
			return errors.WrapCode(v, errors.OutOfMemory)
		}

		return errors.Newf(errors.ExecutionError, "internal failure: %v", v)
	case string:
		if strings.Contains(v, "out of memory") {
			return errors.New(errors.OutOfMemory, v)
		}
	}

	return errors.Newf(errors.ExecutionError, "internal failure: %v", r)
}
