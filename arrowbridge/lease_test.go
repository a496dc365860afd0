package arrowbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedger(t *testing.T) {
	l := newLedger()

	released := 0
	token := l.acquire(3, func() { released++ })
	require.Equal(t, 1, l.outstanding())

	require.True(t, l.close(token))
	require.Equal(t, 1, released)
	require.Equal(t, 0, l.outstanding())

	require.False(t, l.close(token), "second release must be detected")
	require.Equal(t, 1, released, "second release must not run the release again")
	require.EqualValues(t, 1, l.doubleReleases.Load())
}

func TestLedgerUnknownToken(t *testing.T) {
	l := newLedger()
	l.debug.Store(true)

	require.False(t, l.close(42))
	require.EqualValues(t, 1, l.doubleReleases.Load())
}
