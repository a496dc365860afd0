//go:build querybridge_stub

package engine

import (
	"context"

	"github.com/exsql-io/go-querybridge/errors"
)

type stubEngine struct{}

// New returns an engine that reports itself unavailable.
func New(Options) Engine {
	return stubEngine{}
}

func (stubEngine) Available() bool {
	return false
}

func (stubEngine) Execute(context.Context, []byte, Catalog) (*Cursor, error) {
	return nil, errors.New(errors.Unsupported, "execute_plan: engine not available in stub build")
}
