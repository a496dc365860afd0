//go:build querybridge_stub

package engine

import (
	"context"
	"testing"

	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
)

func TestStubEngine(t *testing.T) {
	engine := New(Options{})
	require.False(t, engine.Available())

	cursor, err := engine.Execute(context.Background(), []byte{1}, nil)
	require.Nil(t, cursor)
	require.True(t, errors.Is(err, errors.Unsupported))
	require.Contains(t, err.Error(), "not available in stub build")
}
