package flightsvc

import (
	"testing"

	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestParseAcceleratorKind(t *testing.T) {
	tests := map[string]struct {
		value    string
		expected AcceleratorKind
		remote   bool
	}{
		"go":           {value: "go", expected: Go},
		"upper case":   {value: "VELOX", expected: Velox, remote: true},
		"mixed spaced": {value: "  Acero ", expected: Acero, remote: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			kind, err := ParseAcceleratorKind(test.value)
			require.NoError(t, err)
			require.Equal(t, test.expected, kind)
			require.Equal(t, test.remote, kind.Remote())
		})
	}

	_, err := ParseAcceleratorKind("datafusion")
	require.True(t, errors.Is(err, errors.InvalidArgument))
}

func TestToStatus(t *testing.T) {
	tests := map[errors.Code]codes.Code{
		errors.InvalidArgument: codes.InvalidArgument,
		errors.SchemaMismatch:  codes.InvalidArgument,
		errors.InvalidHandle:   codes.FailedPrecondition,
		errors.Unsupported:     codes.Unimplemented,
		errors.OutOfMemory:     codes.ResourceExhausted,
		errors.ExecutionError:  codes.Aborted,
	}

	for code, expected := range tests {
		t.Run(string(code), func(t *testing.T) {
			err := toStatus(errors.New(code, "failure"))
			require.Equal(t, expected, status.Code(err))
			require.Contains(t, err.Error(), string(code)+": failure")
		})
	}

	require.Equal(t, codes.Internal, status.Code(toStatus(errors.Errorf("plain"))))
}
