package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/exsql-io/go-querybridge/errors"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	configuration, err := Load("../testdata/yaml/bridge.yaml")
	require.NoError(t, err)

	require.EqualValues(t, 64<<20, configuration.ArenaLimitBytes)
	require.EqualValues(t, 1024, configuration.BatchSize)
	require.True(t, configuration.DebugLeases)
	require.Equal(t, "debug", configuration.Log.Level)
	require.Equal(t, "json", configuration.Log.Format)
}

func TestParse(t *testing.T) {
	tests := map[string]struct {
		yaml     string
		expected Bridge
		code     errors.Code
	}{
		"empty document keeps defaults": {
			yaml:     "",
			expected: Default(),
		},
		"zero batch size falls back to the default": {
			yaml: "batchSize: 0\narenaLimitBytes: 10",
			expected: Bridge{
				ArenaLimitBytes: 10,
				BatchSize:       DefaultBatchSize,
				Log:             Default().Log,
			},
		},
		"negative arena limit": {
			yaml: "arenaLimitBytes: -1",
			code: errors.InvalidArgument,
		},
		"malformed yaml": {
			yaml: "batchSize: [",
			code: errors.InvalidArgument,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			configuration := Default()
			err := Parse([]byte(test.yaml), &configuration)
			if test.code != "" {
				require.Equal(t, test.code, errors.CodeOf(err))
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.expected, configuration)
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	configuration, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, Default(), configuration)

	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batchSize: 7\n"), 0o600))

	t.Setenv(EnvironmentVariable, path)
	configuration, err = FromEnv()
	require.NoError(t, err)
	require.EqualValues(t, 7, configuration.BatchSize)

	t.Setenv(EnvironmentVariable, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = FromEnv()
	require.True(t, errors.Is(err, errors.InvalidArgument))
}
