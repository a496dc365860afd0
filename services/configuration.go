package services

import (
	"github.com/exsql-io/go-querybridge/common"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/store"
)

// Stream binds a Kafka topic to the table its rows are registered under.
type Stream struct {
	Topic  string                `yaml:"topic"`
	Table  string                `yaml:"table"`
	Format store.InputFormatType `yaml:"format"`
	Schema common.Schema         `yaml:"schema"`
}

// TableName defaults to the topic when no table is configured.
func (stream Stream) TableName() string {
	if stream.Table != "" {
		return stream.Table
	}

	return stream.Topic
}

func (stream Stream) Validate() error {
	if stream.Topic == "" {
		return errors.New(errors.InvalidArgument, "stream topic is empty")
	}

	if stream.Format != store.Json {
		return errors.Newf(errors.Unsupported, "stream '%s': unsupported format '%s'", stream.Topic, stream.Format)
	}

	if len(stream.Schema.Fields) == 0 {
		return errors.Newf(errors.InvalidArgument, "stream '%s': schema has no fields", stream.Topic)
	}

	return nil
}
