package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/exsql-io/go-querybridge/arrowbridge"
	"github.com/exsql-io/go-querybridge/bridge"
	"github.com/exsql-io/go-querybridge/config"
	"github.com/exsql-io/go-querybridge/engine"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/internal/errchan"
	"github.com/exsql-io/go-querybridge/internal/handles"
	"github.com/exsql-io/go-querybridge/logger"
	"github.com/exsql-io/go-querybridge/metrics"
)

var (
	sessions = handles.New[*bridge.Session]()
	streams  = handles.New[*bridge.Stream]()

	setup struct {
		once   sync.Once
		config config.Bridge
		err    error
	}
)

// bridgeConfig loads the configuration named by QUERYBRIDGE_CONFIG once per
// process and installs the logger it describes.
func bridgeConfig() (config.Bridge, error) {
	setup.once.Do(func() {
		setup.config, setup.err = config.FromEnv()
		logger.Init(setup.config.Log)
		if setup.err != nil {
			logger.Get().Error("loading configuration", "error", setup.err)
		}
	})

	return setup.config, setup.err
}

// report writes err to the caller's error channel.
func report(buf []byte, err error) {
	errchan.Write(buf, errors.Diagnostic(err))
}

// guard converts a panic escaping a boundary function into a diagnostic.
func guard(operation string, buf []byte) {
	if r := recover(); r != nil {
		err := errors.Newf(errors.ExecutionError, "%s: internal failure: %v", operation, r)
		metrics.Default.BoundaryFailures.WithLabelValues(operation, string(errors.ExecutionError)).Inc()
		logger.Get().Error("panic reached the C boundary", "operation", operation, "panic", fmt.Sprint(r))
		report(buf, err)
	}
}

func createSession(buf []byte) (token uint64) {
	defer guard("create_session", buf)

	cfg, err := bridgeConfig()
	if err != nil {
		report(buf, err)
		return 0
	}

	session, err := bridge.NewSession(cfg)
	if err != nil {
		report(buf, err)
		return 0
	}

	return sessions.Put(session)
}

func freeSession(token uint64) (err error) {
	defer guard("free_session", nil)

	session, ok := sessions.Take(token)
	if !ok {
		err = errors.Newf(errors.InvalidHandle, "free_session: unknown session handle %d", token)
		metrics.Default.BoundaryFailures.WithLabelValues("free_session", string(errors.InvalidHandle)).Inc()
		logger.Get().Warn("free of an unknown session", "handle", token)
		return err
	}

	session.Free()
	return nil
}

func lookupSession(token uint64) (*bridge.Session, error) {
	session, ok := sessions.Get(token)
	if !ok {
		return nil, errors.Newf(errors.InvalidHandle, "unknown session handle %d", token)
	}

	return session, nil
}

func registerTable(token uint64, name string, schema *cdata.CArrowSchema, columns []*cdata.CArrowArray, numCols int, numRows int64, buf []byte) (ok bool) {
	defer guard("register_table", buf)

	session, err := lookupSession(token)
	if err != nil {
		report(buf, err)
		return false
	}

	if err := session.RegisterTable(name, schema, columns, numCols, numRows); err != nil {
		report(buf, err)
		return false
	}

	return true
}

func executePlan(token uint64, plan []byte, buf []byte) (handle uint64) {
	defer guard("execute_plan", buf)

	session, err := lookupSession(token)
	if err != nil {
		report(buf, err)
		return 0
	}

	stream, err := session.Execute(context.Background(), plan)
	if err != nil {
		report(buf, err)
		return 0
	}

	return streams.Put(stream)
}

// executeSubstrait copies the caller's plan and executes it. Lengths beyond
// the protobuf message limit are rejected before the buffer is touched.
func executeSubstrait(token uint64, plan unsafe.Pointer, planLen uint64, buf []byte) (handle uint64) {
	defer guard("execute_plan", buf)

	if planLen > math.MaxInt32 {
		report(buf, errors.Newf(errors.InvalidArgument, "plan of %d bytes exceeds the %d byte limit", planLen, math.MaxInt32))
		return 0
	}

	var bytes []byte
	if plan != nil && planLen > 0 {
		bytes = append([]byte(nil), unsafe.Slice((*byte)(plan), int(planLen))...)
	}

	return executePlan(token, bytes, buf)
}

type pulled struct {
	numCols int64
	numRows int64
	end     bool
}

func streamNext(token uint64, outSchema *cdata.CArrowSchema, outBatch *cdata.CArrowArray, buf []byte) (result pulled, ok bool) {
	defer guard("stream_next", buf)

	stream, found := streams.Get(token)
	if !found {
		report(buf, errors.Newf(errors.InvalidHandle, "unknown stream handle %d", token))
		return pulled{}, false
	}

	numCols, numRows, end, err := stream.Next(outSchema, outBatch)
	if err != nil {
		report(buf, err)
		return pulled{}, false
	}

	return pulled{numCols: numCols, numRows: numRows, end: end}, true
}

// writeOutcome fills the optional out parameters of a pull and returns what
// stream_next reports: true only when a batch was produced. The end flag is
// set at the end of the stream and cleared otherwise.
func writeOutcome(result pulled, ok bool, outNumCols, outNumRows *int64, outEnd *uint8) bool {
	if outEnd != nil {
		*outEnd = 0
	}

	if !ok {
		return false
	}

	if result.end {
		if outEnd != nil {
			*outEnd = 1
		}

		return false
	}

	if outNumCols != nil {
		*outNumCols = result.numCols
	}
	if outNumRows != nil {
		*outNumRows = result.numRows
	}

	return true
}

func streamFree(token uint64) (err error) {
	defer guard("stream_free", nil)

	stream, ok := streams.Take(token)
	if !ok {
		err = errors.Newf(errors.InvalidHandle, "stream_free: unknown stream handle %d", token)
		metrics.Default.BoundaryFailures.WithLabelValues("stream_free", string(errors.InvalidHandle)).Inc()
		logger.Get().Warn("free of an unknown stream", "handle", token)
		return err
	}

	stream.Free()
	return nil
}

func engineAvailable() bool {
	return engine.New(engine.Options{}).Available()
}

func outstandingExports() int64 {
	return int64(arrowbridge.Outstanding())
}
