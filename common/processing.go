package common

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/errors"
)

type ColumnarBatch = arrow.Record

// CloseableIterator walks batches in order. Value is only valid until the next
// call to Next; callers retain it to keep it longer.
type CloseableIterator interface {
	Next() bool
	Value() ColumnarBatch
	Err() error
	Close()
}

// EOB signals that an operator has no more batches.
var EOB = errors.New(errors.EndOfStream, "end of batches")

func IsEOB(err error) bool {
	return err == EOB || errors.Is(err, errors.EndOfStream)
}
