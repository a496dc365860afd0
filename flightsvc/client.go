package flightsvc

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/exsql-io/go-querybridge/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client ships tables and Substrait plans to a remote Flight accelerator.
type Client struct {
	kind   AcceleratorKind
	client flight.Client
}

func Dial(endpoint string, kind AcceleratorKind) (*Client, error) {
	client, err := flight.NewClientWithMiddleware(endpoint, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(errors.WrapCode(err, errors.ExecutionError), "connecting to %s accelerator at %s", kind, endpoint)
	}

	return &Client{kind: kind, client: client}, nil
}

func (client *Client) Kind() AcceleratorKind {
	return client.kind
}

// PushTable uploads rec to the accelerator under name.
func (client *Client) PushTable(ctx context.Context, name string, rec arrow.Record) error {
	stream, err := client.client.DoPut(ctx)
	if err != nil {
		return errors.Wrap(errors.WrapCode(err, errors.ExecutionError), "opening put stream")
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: PushPath(name)})

	if err := writer.Write(rec); err != nil {
		return errors.Wrapf(errors.WrapCode(err, errors.ExecutionError), "pushing table '%s'", name)
	}

	if err := writer.Close(); err != nil {
		return errors.Wrapf(errors.WrapCode(err, errors.ExecutionError), "pushing table '%s'", name)
	}

	if err := stream.CloseSend(); err != nil {
		return errors.Wrap(errors.WrapCode(err, errors.ExecutionError), "closing put stream")
	}

	for {
		if _, err := stream.Recv(); err != nil {
			if err == io.EOF {
				return nil
			}

			return errors.Wrapf(errors.WrapCode(err, errors.ExecutionError), "pushing table '%s'", name)
		}
	}
}

// Execute runs plan remotely and returns every result batch. The caller
// releases the records.
func (client *Client) Execute(ctx context.Context, plan []byte) ([]arrow.Record, error) {
	stream, err := client.client.DoGet(ctx, &flight.Ticket{Ticket: plan})
	if err != nil {
		return nil, errors.Wrap(errors.WrapCode(err, errors.ExecutionError), "submitting plan")
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, errors.Wrap(errors.WrapCode(err, errors.ExecutionError), "reading results")
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}

	if err := reader.Err(); err != nil && err != io.EOF {
		for _, rec := range records {
			rec.Release()
		}

		return nil, errors.Wrap(errors.WrapCode(err, errors.ExecutionError), "reading results")
	}

	return records, nil
}

func (client *Client) Close() error {
	return client.client.Close()
}
