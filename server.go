package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/exsql-io/go-querybridge/bridge"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/flightsvc"
	"github.com/exsql-io/go-querybridge/logger"
	"github.com/exsql-io/go-querybridge/services"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configuration, err := LoadConfiguration(os.Getenv(ConfigurationPathVariable))
	if err != nil {
		panic(err)
	}

	logger.Init(configuration.Log)

	if err := run(configuration); err != nil {
		logger.Get().Error("querybridge stopped", "error", err)
		os.Exit(1)
	}
}

func run(configuration *Configuration) error {
	session, err := bridge.NewSession(configuration.Bridge)
	if err != nil {
		return err
	}
	defer session.Free()

	kind, err := configuration.AcceleratorKind()
	if err != nil {
		return err
	}

	api := &api{session: session, kind: kind, leaves: map[string]*services.Leaf{}}
	if kind.Remote() {
		api.remote, err = flightsvc.Dial(configuration.AcceleratorEndpoint, kind)
		if err != nil {
			return err
		}
		defer api.remote.Close()

		logger.Get().Info("forwarding to accelerator", "kind", api.remote.Kind(), "endpoint", configuration.AcceleratorEndpoint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	for _, stream := range configuration.Streams {
		tailer, err := services.NewTailer(configuration.InstanceId, configuration.Brokers, stream.Topic)
		if err != nil {
			return err
		}
		defer tailer.Stop()

		leaf, err := services.NewLeaf(stream, tailer.Channel, &forwarder{session: session, remote: api.remote}, 0)
		if err != nil {
			return err
		}

		tailer.Start(ctx)
		api.leaves[stream.TableName()] = leaf
		g.Go(func() error {
			return leaf.Run(ctx)
		})
	}

	if configuration.FlightAddress != "" {
		server, err := flightsvc.Listen(configuration.FlightAddress, flightsvc.NewServer(session))
		if err != nil {
			return err
		}

		g.Go(server.Serve)
		g.Go(func() error {
			<-ctx.Done()
			server.Shutdown()
			return nil
		})
	}

	e := newRouter(api)
	g.Go(func() error {
		logger.Get().Info("http service listening", "address", configuration.HTTPAddress, "session", session.ID().String())
		if err := e.Start(configuration.HTTPAddress); err != nil && err != http.ErrServerClosed {
			return errors.Wrapf(err, "serving http on %s", configuration.HTTPAddress)
		}

		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return e.Shutdown(shutdown)
	})

	return g.Wait()
}

// forwarder registers stream tables with the local session and, when an
// accelerator is configured, pushes them there too.
type forwarder struct {
	session *bridge.Session
	remote  *flightsvc.Client
}

func (f *forwarder) RegisterRecord(name string, rec arrow.Record) error {
	if err := f.session.RegisterRecord(name, rec); err != nil {
		return err
	}

	if f.remote == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return f.remote.PushTable(ctx, name, rec)
}
