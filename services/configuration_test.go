package services

import (
	"testing"

	"github.com/exsql-io/go-querybridge/common"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/store"
)

func TestStreamTableName(t *testing.T) {
	stream := Stream{Topic: "nyc-taxi-trips"}
	if stream.TableName() != "nyc-taxi-trips" {
		t.Errorf("expected table name to default to the topic, got: '%s'", stream.TableName())
	}

	stream.Table = "trips"
	if stream.TableName() != "trips" {
		t.Errorf("expected table name 'trips', got: '%s'", stream.TableName())
	}
}

func TestStreamValidate(t *testing.T) {
	schema, err := common.FromYaml("../testdata/yaml/trips-schema.yaml")
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]struct {
		stream   Stream
		expected errors.Code
	}{
		"valid":          {stream: Stream{Topic: "trips", Format: store.Json, Schema: *schema}},
		"missing topic":  {stream: Stream{Format: store.Json, Schema: *schema}, expected: errors.InvalidArgument},
		"unknown format": {stream: Stream{Topic: "trips", Format: "avro", Schema: *schema}, expected: errors.Unsupported},
		"empty schema":   {stream: Stream{Topic: "trips", Format: store.Json}, expected: errors.InvalidArgument},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.stream.Validate()
			if test.expected == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}

				return
			}

			if !errors.Is(err, test.expected) {
				t.Errorf("expected a %s error, got: %v", test.expected, err)
			}
		})
	}
}
