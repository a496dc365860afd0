package main

import (
	"os"

	"github.com/exsql-io/go-querybridge/config"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/flightsvc"
	"github.com/exsql-io/go-querybridge/services"
	"gopkg.in/yaml.v3"
)

// ConfigurationPathVariable names the daemon configuration file.
const ConfigurationPathVariable = "QUERYBRIDGE_SERVER_CONFIGURATION_PATH"

type Configuration struct {
	config.Bridge `yaml:",inline"`

	InstanceId    string `yaml:"instanceId"`
	HTTPAddress   string `yaml:"httpAddress"`
	FlightAddress string `yaml:"flightAddress"`

	// Accelerator is go, acero or velox. The remote kinds forward tables and
	// plans to AcceleratorEndpoint over Flight.
	Accelerator         string `yaml:"accelerator"`
	AcceleratorEndpoint string `yaml:"acceleratorEndpoint"`

	Brokers []string          `yaml:"brokers"`
	Streams []services.Stream `yaml:"streams"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		Bridge:      config.Default(),
		InstanceId:  "querybridge",
		HTTPAddress: ":1323",
		Accelerator: string(flightsvc.Go),
	}
}

// LoadConfiguration reads path over the defaults. An empty path yields the
// defaults.
func LoadConfiguration(path string) (*Configuration, error) {
	configuration := DefaultConfiguration()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(errors.WrapCode(err, errors.InvalidArgument), "reading configuration '%s'", path)
		}

		if err := yaml.Unmarshal(data, &configuration); err != nil {
			return nil, errors.Wrapf(errors.WrapCode(err, errors.InvalidArgument), "parsing configuration '%s'", path)
		}
	}

	if err := configuration.Validate(); err != nil {
		return nil, err
	}

	return &configuration, nil
}

func (configuration *Configuration) Validate() error {
	if err := configuration.Bridge.Validate(); err != nil {
		return err
	}

	kind, err := configuration.AcceleratorKind()
	if err != nil {
		return err
	}

	if kind.Remote() && configuration.AcceleratorEndpoint == "" {
		return errors.Newf(errors.InvalidArgument, "accelerator '%s' requires an acceleratorEndpoint", kind)
	}

	if len(configuration.Streams) > 0 && len(configuration.Brokers) == 0 {
		return errors.New(errors.InvalidArgument, "streams are configured without brokers")
	}

	for _, stream := range configuration.Streams {
		if err := stream.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (configuration *Configuration) AcceleratorKind() (flightsvc.AcceleratorKind, error) {
	return flightsvc.ParseAcceleratorKind(configuration.Accelerator)
}
