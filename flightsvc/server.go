package flightsvc

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/exsql-io/go-querybridge/bridge"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/logger"
	"github.com/exsql-io/go-querybridge/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var pushPrefix = []string{"push", "temp"}

// Server answers Flight calls against one bridge session.
type Server struct {
	flight.BaseFlightServer
	session *bridge.Session
}

func NewServer(session *bridge.Session) *Server {
	return &Server{session: session}
}

// Listen binds a Flight server for srv to address. The caller runs Serve and
// Shutdown on the result.
func Listen(address string, srv *Server) (flight.Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	if err := server.Init(address); err != nil {
		return nil, errors.Wrapf(err, "listening on %s", address)
	}

	server.RegisterFlightService(srv)
	logger.Get().Info("flight service listening", "address", server.Addr().String())

	return server, nil
}

// PushPath is the descriptor path under which table is pushed.
func PushPath(table string) []string {
	return append(append([]string{}, pushPrefix...), table)
}

func tableFromDescriptor(descriptor *flight.FlightDescriptor) (string, error) {
	if descriptor == nil {
		return "", errors.New(errors.InvalidArgument, "DoPut without a flight descriptor")
	}

	path := descriptor.GetPath()
	if descriptor.GetType() != flight.DescriptorPATH || len(path) != 3 || path[0] != pushPrefix[0] || path[1] != pushPrefix[1] || path[2] == "" {
		return "", errors.Newf(errors.InvalidArgument, "descriptor path must be [push temp <table>], got: %v", path)
	}

	return path[2], nil
}

func (srv *Server) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(srv.session.Allocator()))
	if err != nil {
		return toStatus(errors.Wrap(errors.WrapCode(err, errors.InvalidArgument), "reading put stream"))
	}
	defer reader.Release()

	name, err := tableFromDescriptor(reader.LatestFlightDescriptor())
	if err != nil {
		return toStatus(err)
	}

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
		return toStatus(errors.Wrap(errors.WrapCode(err, errors.InvalidArgument), "reading put stream"))
	}

	table, err := store.Concatenate(srv.session.Allocator(), reader.Schema(), records)
	if err != nil {
		return toStatus(err)
	}
	defer table.Release()

	if err := srv.session.RegisterRecord(name, table); err != nil {
		return toStatus(err)
	}

	logger.Get().Debug("table pushed over flight", "table", name, "rows", table.NumRows(), "batches", len(records))
	return stream.Send(&flight.PutResult{AppMetadata: []byte(name)})
}

func (srv *Server) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	result, err := srv.session.Execute(stream.Context(), ticket.GetTicket())
	if err != nil {
		return toStatus(err)
	}
	defer result.Free()

	var writer *flight.Writer
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	for {
		rec, err := result.NextRecord()
		if err != nil {
			return toStatus(err)
		}

		if rec == nil {
			break
		}

		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
		}

		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}

	if writer == nil {
		// empty result: announce a schema without fields
		writer = flight.NewRecordWriter(stream, ipc.WithSchema(arrow.NewSchema(nil, nil)))
	}

	return nil
}

// toStatus maps a coded error onto the closest gRPC status.
func toStatus(err error) error {
	code := codes.Internal
	switch errors.CodeOf(err) {
	case errors.InvalidArgument, errors.SchemaMismatch:
		code = codes.InvalidArgument
	case errors.InvalidHandle:
		code = codes.FailedPrecondition
	case errors.Unsupported:
		code = codes.Unimplemented
	case errors.OutOfMemory:
		code = codes.ResourceExhausted
	case errors.ExecutionError:
		code = codes.Aborted
	}

	return status.Error(code, errors.Diagnostic(err))
}
