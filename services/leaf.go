package services

import (
	"context"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/logger"
	"github.com/exsql-io/go-querybridge/metrics"
	"github.com/exsql-io/go-querybridge/store"
)

// DefaultPublishInterval is how often a leaf registers its rows when they
// changed.
const DefaultPublishInterval = time.Second

// Registrar installs tables. *bridge.Session implements it.
type Registrar interface {
	RegisterRecord(name string, rec arrow.Record) error
}

// Leaf keeps the latest row per key of one stream and periodically registers
// the rows as a table.
type Leaf struct {
	Stream   Stream
	Store    *store.InMemoryTable
	input    <-chan Message
	target   Registrar
	interval time.Duration
}

func NewLeaf(stream Stream, input <-chan Message, target Registrar, interval time.Duration) (*Leaf, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	table, err := store.NewInMemoryTable(nil, stream.Format, &stream.Schema)
	if err != nil {
		return nil, errors.Wrapf(err, "stream '%s'", stream.Topic)
	}

	if interval <= 0 {
		interval = DefaultPublishInterval
	}

	return &Leaf{
		Stream:   stream,
		Store:    table,
		input:    input,
		target:   target,
		interval: interval,
	}, nil
}

// Get returns the latest raw value stored under key.
func (leaf *Leaf) Get(key []byte) []byte {
	return leaf.Store.Get(key)
}

// Run consumes messages until ctx is done or the input is closed, publishing
// the table on every tick and once more before returning. A consumer error
// ends the run.
func (leaf *Leaf) Run(ctx context.Context) error {
	ticker := time.NewTicker(leaf.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return leaf.Publish()
		case <-ticker.C:
			if err := leaf.Publish(); err != nil {
				logger.Get().Warn("publishing stream table", "topic", leaf.Stream.Topic, "error", err)
			}
		case message, ok := <-leaf.input:
			if !ok {
				return leaf.Publish()
			}

			if len(message.Errors) > 0 {
				for _, err := range message.Errors {
					logger.Get().Error("consuming topic", "topic", leaf.Stream.Topic, "error", err)
				}

				return errors.Wrapf(errors.WrapCode(message.Errors[0], errors.ExecutionError), "consuming topic '%s'", leaf.Stream.Topic)
			}

			record := message.Record
			key := record.Key
			if key == nil {
				// keyless records are never replaced
				key = []byte(strconv.FormatInt(record.Offset, 10))
			}

			leaf.Store.Put(record.Offset, key, record.Value)
			metrics.Default.IngestedRecords.WithLabelValues(leaf.Stream.Topic).Inc()
		}
	}
}

// Publish registers the stored rows when they changed since the last
// publication.
func (leaf *Leaf) Publish() error {
	if !leaf.Store.Dirty() {
		return nil
	}

	rec, err := leaf.Store.Record()
	if err != nil {
		return errors.Wrapf(err, "building table '%s'", leaf.Stream.TableName())
	}
	defer rec.Release()

	if err := leaf.target.RegisterRecord(leaf.Stream.TableName(), rec); err != nil {
		return err
	}

	logger.Get().Debug("stream table published", "table", leaf.Stream.TableName(), "rows", rec.NumRows())
	return nil
}
