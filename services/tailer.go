package services

import (
	"context"
	"sync"

	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/logger"
	"github.com/twmb/franz-go/pkg/kgo"
)

type Message struct {
	Errors []error
	Record *kgo.Record
}

// Tailer consumes one topic and publishes its records on Channel. Channel is
// closed once the tailer stops.
type Tailer struct {
	Id      string
	Topic   string
	Channel chan Message

	mutex   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	client  *kgo.Client
}

func NewTailer(id string, brokers []string, topic string, opts ...kgo.Opt) (*Tailer, error) {
	opts = append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ClientID(id),
	}, opts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrapf(errors.WrapCode(err, errors.InvalidArgument), "creating kafka client for topic '%s'", topic)
	}

	return &Tailer{
		Id:      id,
		Topic:   topic,
		Channel: make(chan Message),
		client:  client,
	}, nil
}

func (tailer *Tailer) Start(ctx context.Context) {
	tailer.mutex.Lock()
	defer tailer.mutex.Unlock()

	if tailer.running {
		return
	}

	ctx, tailer.cancel = context.WithCancel(ctx)
	tailer.done = make(chan struct{})
	tailer.running = true

	go func() {
		defer close(tailer.done)
		defer close(tailer.Channel)
		consume(ctx, tailer.client, tailer.Channel)
	}()

	logger.Get().Info("tailer started", "id", tailer.Id, "topic", tailer.Topic)
}

func (tailer *Tailer) IsRunning() bool {
	tailer.mutex.Lock()
	defer tailer.mutex.Unlock()

	return tailer.running
}

// Stop cancels consumption, waits for the consumer to exit and closes the
// client.
func (tailer *Tailer) Stop() {
	tailer.mutex.Lock()
	defer tailer.mutex.Unlock()

	if tailer.running {
		tailer.cancel()
		<-tailer.done
		tailer.running = false
	}

	tailer.client.Close()
}

func consume(ctx context.Context, client *kgo.Client, publishTo chan<- Message) {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			errors := make([]error, len(errs))
			for i, err := range errs {
				errors[i] = err.Err
			}

			select {
			case publishTo <- Message{Errors: errors}:
			case <-ctx.Done():
			}

			return
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			select {
			case publishTo <- Message{Record: iter.Next()}:
			case <-ctx.Done():
				return
			}
		}
	}
}
