//go:build querybridge_stub

package bridge

import (
	"context"
	"testing"

	"github.com/exsql-io/go-querybridge/config"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
)

func TestStubSession(t *testing.T) {
	session, err := NewSession(config.Default())
	require.NoError(t, err)
	defer session.Free()

	require.False(t, session.EngineAvailable())

	stream, err := session.Execute(context.Background(), []byte{0x0a})
	require.Nil(t, stream)
	require.True(t, errors.Is(err, errors.Unsupported))
	require.Contains(t, err.Error(), "not available in stub build")
}
