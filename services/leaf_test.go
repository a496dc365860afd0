package services

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/exsql-io/go-querybridge/common"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/store"
	"github.com/twmb/franz-go/pkg/kgo"
)

type capturingRegistrar struct {
	tables map[string]arrow.Record
}

func (registrar *capturingRegistrar) RegisterRecord(name string, rec arrow.Record) error {
	if previous, ok := registrar.tables[name]; ok {
		previous.Release()
	}

	rec.Retain()
	registrar.tables[name] = rec
	return nil
}

func (registrar *capturingRegistrar) release() {
	for _, rec := range registrar.tables {
		rec.Release()
	}
}

func tripsStream(t *testing.T) Stream {
	t.Helper()

	schema, err := common.FromYaml("../testdata/yaml/trips-schema.yaml")
	if err != nil {
		t.Fatal(err)
	}

	return Stream{Topic: "nyc-taxi-trips", Table: "trips", Format: store.Json, Schema: *schema}
}

func trip(offset int64, key string, vendor string) Message {
	record := &kgo.Record{
		Topic:  "nyc-taxi-trips",
		Offset: offset,
		Value:  []byte(`{"vendorId": "` + vendor + `", "pickupTimestamp": 1, "passengers": 2, "distanceInMiles": 1.5, "totalAmount": 10}`),
	}

	if key != "" {
		record.Key = []byte(key)
	}

	return Message{Record: record}
}

func TestLeafPublishesLatestRowPerKey(t *testing.T) {
	input := make(chan Message, 8)
	registrar := &capturingRegistrar{tables: map[string]arrow.Record{}}
	defer registrar.release()

	leaf, err := NewLeaf(tripsStream(t), input, registrar, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	input <- trip(0, "a", "v1")
	input <- trip(1, "b", "v2")
	input <- trip(2, "a", "v3")
	input <- trip(3, "", "v4")
	close(input)

	if err := leaf.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec, ok := registrar.tables["trips"]
	if !ok {
		t.Fatal("expected table 'trips' to be registered")
	}

	if rec.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got: %d", rec.NumRows())
	}

	vendors := rec.Column(0).(*array.String)
	expected := []string{"v2", "v3", "v4"}
	for i, vendor := range expected {
		if vendors.Value(i) != vendor {
			t.Errorf("expected vendor at row %d to be '%s', got: '%s'", i, vendor, vendors.Value(i))
		}
	}

	if rec.Column(4).IsValid(0) {
		t.Errorf("expected missing tollsAmount to be null")
	}

	if string(leaf.Get([]byte("a"))) != string(trip(2, "a", "v3").Record.Value) {
		t.Errorf("expected Get to return the latest value of key 'a'")
	}
}

func TestLeafStopsOnConsumerError(t *testing.T) {
	input := make(chan Message, 1)
	registrar := &capturingRegistrar{tables: map[string]arrow.Record{}}
	defer registrar.release()

	leaf, err := NewLeaf(tripsStream(t), input, registrar, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	input <- Message{Errors: []error{errors.Errorf("broker unreachable")}}

	err = leaf.Run(context.Background())
	if !errors.Is(err, errors.ExecutionError) {
		t.Errorf("expected an ExecutionError, got: %v", err)
	}

	if len(registrar.tables) != 0 {
		t.Errorf("expected nothing to be registered, got: %d tables", len(registrar.tables))
	}
}

func TestLeafPublishesOnCancel(t *testing.T) {
	input := make(chan Message, 1)
	registrar := &capturingRegistrar{tables: map[string]arrow.Record{}}
	defer registrar.release()

	leaf, err := NewLeaf(tripsStream(t), input, registrar, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	input <- trip(0, "a", "v1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- leaf.Run(ctx)
	}()

	for leaf.Store.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if rec, ok := registrar.tables["trips"]; !ok || rec.NumRows() != 1 {
		t.Errorf("expected one published row")
	}
}

func TestNewLeafRejectsInvalidStream(t *testing.T) {
	_, err := NewLeaf(Stream{Topic: "trips", Format: store.Json}, nil, nil, 0)
	if !errors.Is(err, errors.InvalidArgument) {
		t.Errorf("expected an InvalidArgument error, got: %v", err)
	}
}
