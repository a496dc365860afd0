// Package flightsvc exposes a bridge session as an Arrow Flight accelerator
// and provides the matching client.
//
// Tables are pushed with DoPut under the descriptor path
// ["push", "temp", <table>]. A DoGet ticket carries serialized Substrait
// plan bytes and the reply streams the result batches.
package flightsvc

import (
	"strings"

	"github.com/exsql-io/go-querybridge/errors"
)

// AcceleratorKind names the engine that executes plans.
type AcceleratorKind string

const (
	// Go runs plans in process on the volcano engine.
	Go    AcceleratorKind = "go"
	Acero AcceleratorKind = "acero"
	Velox AcceleratorKind = "velox"
)

// ParseAcceleratorKind accepts any casing and surrounding whitespace.
func ParseAcceleratorKind(value string) (AcceleratorKind, error) {
	switch kind := AcceleratorKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case Go, Acero, Velox:
		return kind, nil
	default:
		return "", errors.Newf(errors.InvalidArgument, "unknown accelerator '%s', expected one of go, acero, velox", value)
	}
}

// Remote reports whether plans for kind are shipped to a Flight endpoint.
func (kind AcceleratorKind) Remote() bool {
	return kind == Acero || kind == Velox
}
