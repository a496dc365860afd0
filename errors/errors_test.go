package errors_test

import (
	"fmt"
	"testing"

	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
)

func TestIs(t *testing.T) {
	tests := map[string]struct {
		err    error
		code   errors.Code
		expect bool
	}{
		"same code": {
			err:    errors.New(errors.InvalidArgument, "empty name"),
			code:   errors.InvalidArgument,
			expect: true,
		},
		"other code": {
			err:    errors.New(errors.InvalidArgument, "empty name"),
			code:   errors.SchemaMismatch,
			expect: false,
		},
		"wrapped": {
			err:    errors.Wrap(errors.New(errors.ExecutionError, "table not found: t"), "execute"),
			code:   errors.ExecutionError,
			expect: true,
		},
		"uncoded": {
			err:    fmt.Errorf("plain"),
			code:   errors.ExecutionError,
			expect: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, test.expect, errors.Is(test.err, test.code))
		})
	}
}

func TestDiagnostic(t *testing.T) {
	err := errors.Wrap(errors.Newf(errors.SchemaMismatch, "column %d: unsupported format %q", 1, "+m"), "register_table")
	require.Equal(t, `SchemaMismatch: register_table: column 1: unsupported format "+m"`, errors.Diagnostic(err))
}

func TestWrapCode(t *testing.T) {
	require.Nil(t, errors.WrapCode(nil, errors.ExecutionError))

	plain := errors.WrapCode(fmt.Errorf("boom"), errors.ExecutionError)
	require.Equal(t, errors.ExecutionError, errors.CodeOf(plain))

	coded := errors.WrapCode(errors.New(errors.OutOfMemory, "arena exhausted"), errors.ExecutionError)
	require.Equal(t, errors.OutOfMemory, errors.CodeOf(coded))
	require.Equal(t, errors.ErrUncoded, errors.CodeOf(fmt.Errorf("plain")))
}
