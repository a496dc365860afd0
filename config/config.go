// Package config loads the bridge configuration.
package config

import (
	"os"

	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/logger"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the yaml file the library reads its
// configuration from.
const EnvironmentVariable = "QUERYBRIDGE_CONFIG"

const DefaultBatchSize int64 = 64 * 1024

type Bridge struct {
	// ArenaLimitBytes bounds each session arena; zero means unbounded.
	ArenaLimitBytes int64         `yaml:"arenaLimitBytes"`
	BatchSize       int64         `yaml:"batchSize"`
	DebugLeases     bool          `yaml:"debugLeases"`
	Log             logger.Config `yaml:"log"`
}

func Default() Bridge {
	return Bridge{
		BatchSize: DefaultBatchSize,
		Log:       logger.Config{Level: "warn", Format: "text"},
	}
}

// Load reads path on top of the defaults.
func Load(path string) (Bridge, error) {
	configuration := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return configuration, errors.Wrapf(errors.WrapCode(err, errors.InvalidArgument), "reading configuration '%s'", path)
	}

	if err := Parse(data, &configuration); err != nil {
		return configuration, errors.Wrapf(err, "configuration '%s'", path)
	}

	return configuration, nil
}

// Parse decodes data over configuration and validates the result.
func Parse(data []byte, configuration *Bridge) error {
	if err := yaml.Unmarshal(data, configuration); err != nil {
		return errors.Wrap(errors.WrapCode(err, errors.InvalidArgument), "parsing yaml")
	}

	return configuration.Validate()
}

func (configuration *Bridge) Validate() error {
	if configuration.ArenaLimitBytes < 0 {
		return errors.Newf(errors.InvalidArgument, "arenaLimitBytes must not be negative, got: %d", configuration.ArenaLimitBytes)
	}

	if configuration.BatchSize <= 0 {
		configuration.BatchSize = DefaultBatchSize
	}

	return nil
}

// FromEnv loads the file named by EnvironmentVariable, or the defaults when
// it is unset.
func FromEnv() (Bridge, error) {
	path, ok := os.LookupEnv(EnvironmentVariable)
	if !ok || path == "" {
		return Default(), nil
	}

	return Load(path)
}
