package bridge

import (
	"testing"

	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
)

func TestRecoverBoundary(t *testing.T) {
	tests := map[string]struct {
		panic    interface{}
		expected errors.Code
	}{
		"arena limit":         {panic: errors.New(errors.OutOfMemory, "arena limit of 8 bytes exceeded"), expected: errors.OutOfMemory},
		"mallocator string":   {panic: "mallocator: out of memory", expected: errors.OutOfMemory},
		"plain error":         {panic: errors.Errorf("index out of range"), expected: errors.ExecutionError},
		"arbitrary value":     {panic: 42, expected: errors.ExecutionError},
		"unrelated string":    {panic: "boom", expected: errors.ExecutionError},
		"coded non-oom error": {panic: errors.New(errors.SchemaMismatch, "bad"), expected: errors.ExecutionError},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			call := func() (err error) {
				defer recoverBoundary("test", &err)
				panic(test.panic)
			}

			err := call()
			require.Error(t, err)
			require.Equal(t, test.expected, errors.CodeOf(err))
		})
	}
}

func TestRecoverBoundaryPassesErrorsThrough(t *testing.T) {
	call := func() (err error) {
		defer recoverBoundary("test", &err)
		return errors.New(errors.InvalidArgument, "bad input")
	}

	require.True(t, errors.Is(call(), errors.InvalidArgument))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "Active", Active.String())
	require.Equal(t, "Exhausted", Exhausted.String())
	require.Equal(t, "Failed", Failed.String())
}
