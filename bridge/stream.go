package bridge

import (
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/exsql-io/go-querybridge/arrowbridge"
	"github.com/exsql-io/go-querybridge/engine"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/logger"
	"github.com/exsql-io/go-querybridge/metrics"
	"github.com/exsql-io/go-querybridge/store"
)

type State int

const (
	Active State = iota
	Exhausted
	Failed
)

func (state State) String() string {
	switch state {
	case Active:
		return "Active"
	case Exhausted:
		return "Exhausted"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Stream is a forward-only sequence of result batches. Once Exhausted or
// Failed it stays there, and every later pull reports the same outcome.
// Pulls are serialized.
type Stream struct {
	session  *Session
	cursor   *engine.Cursor
	snapshot *store.Snapshot

	mutex          sync.Mutex
	state          State
	err            error
	schemaExported bool
	freed          bool
}

func (stream *Stream) State() State {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	return stream.state
}

// Next exports the next batch into outBatch as a struct array. outSchema is
// written only by the first pull that yields a batch and may be nil after
// that. At the end of the stream, end is true and nothing is written.
func (stream *Stream) Next(outSchema *cdata.CArrowSchema, outBatch *cdata.CArrowArray) (numCols, numRows int64, end bool, err error) {
	var replayed bool
	defer recoverPull(&replayed, &err)

	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	replayed = stream.replaysFailure()

	if !stream.freed && stream.state == Active {
		if outBatch == nil {
			return 0, 0, false, errors.New(errors.InvalidArgument, "output batch is null")
		}

		if !stream.schemaExported && outSchema == nil {
			return 0, 0, false, errors.New(errors.InvalidArgument, "output schema is null on the first pull")
		}
	}

	rec, err := stream.pull()
	if err != nil {
		return 0, 0, false, err
	}

	if rec == nil {
		return 0, 0, true, nil
	}
	defer rec.Release()

	if err := stream.export(rec, outSchema, outBatch); err != nil {
		stream.fail(err)
		return 0, 0, false, err
	}

	return rec.NumCols(), rec.NumRows(), false, nil
}

func (stream *Stream) export(rec arrow.Record, outSchema *cdata.CArrowSchema, outBatch *cdata.CArrowArray) (err error) {
	exportedSchema := false
	defer func() {
		if r := recover(); r != nil {
			err = fromPanic(r)
		}

		if err != nil && exportedSchema {
			cdata.ReleaseCArrowSchema(outSchema)
		}
	}()

	if !stream.schemaExported {
		if err := arrowbridge.ExportSchema(rec.Schema(), outSchema); err != nil {
			return err
		}
		exportedSchema = true
	}

	if err := arrowbridge.ExportBatch(rec, outBatch); err != nil {
		return err
	}

	stream.schemaExported = true
	metrics.Default.BatchesExported.Inc()
	metrics.Default.RowsExported.Add(float64(rec.NumRows()))

	return nil
}

// NextRecord returns the next batch for Go callers, who must release it. It
// returns nil at the end of the stream.
func (stream *Stream) NextRecord() (rec arrow.Record, err error) {
	var replayed bool
	defer recoverPull(&replayed, &err)

	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	replayed = stream.replaysFailure()

	rec, err = stream.pull()
	if rec != nil {
		metrics.Default.BatchesExported.Inc()
		metrics.Default.RowsExported.Add(float64(rec.NumRows()))
	}

	return rec, err
}

// pull advances the cursor and returns a retained batch, nil at the end. The
// caller holds the mutex.
func (stream *Stream) pull() (rec arrow.Record, err error) {
	if stream.freed {
		return nil, errors.New(errors.InvalidHandle, "stream has been freed")
	}

	switch stream.state {
	case Exhausted:
		return nil, nil
	case Failed:
		return nil, stream.err
	}

	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fromPanic(r)
			stream.fail(err)
		}
	}()

	if stream.cursor.Next() {
		rec = stream.cursor.Value()
		rec.Retain()
		return rec, nil
	}

	if err := stream.cursor.Err(); err != nil {
		err = errors.WrapCode(err, errors.ExecutionError)
		stream.fail(err)
		return nil, err
	}

	stream.state = Exhausted
	stream.cursor.Close()
	stream.session.log.Debug("stream exhausted")

	return nil, nil
}

// replaysFailure reports whether a pull only returns the stored error. The
// caller holds the mutex.
func (stream *Stream) replaysFailure() bool {
	return !stream.freed && stream.state == Failed
}

// recoverPull is recoverBoundary for pulls: a failure is counted when the
// stream enters Failed, not again when a later pull returns it.
func recoverPull(replayed *bool, err *error) {
	if r := recover(); r != nil {
		*err = fromPanic(r)
		*replayed = false
		logger.Get().Warn("panic recovered at boundary", "operation", "stream_next", "panic", fmt.Sprint(r))
	}

	if *err != nil && !*replayed {
		metrics.Default.BoundaryFailures.WithLabelValues("stream_next", string(errors.CodeOf(*err))).Inc()
	}
}

func (stream *Stream) fail(err error) {
	stream.state = Failed
	stream.err = err
	stream.cursor.Close()
	stream.session.log.Warn("stream failed", "error", err)
}

// Free closes the operator tree and releases the tables the stream reads.
// It is safe from any state and a second call is a no-op.
func (stream *Stream) Free() {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	if stream.freed {
		return
	}

	stream.freed = true
	stream.cursor.Close()
	stream.snapshot.Release()
	metrics.Default.StreamsActive.Dec()
	stream.session.log.Debug("stream freed", "state", stream.state.String())
}

// Collect drains stream into retained records. On error the records pulled
// so far are released.
func Collect(stream *Stream) ([]arrow.Record, error) {
	var records []arrow.Record
	for {
		rec, err := stream.NextRecord()
		if err != nil {
			for _, r := range records {
				r.Release()
			}

			return nil, err
		}

		if rec == nil {
			return records, nil
		}

		records = append(records, rec)
	}
}
