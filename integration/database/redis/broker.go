package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/pgpubsub/core/logger"
	"github.com/dmitrymomot/pgpubsub/core/pubsub"
)

// Sink receives demultiplexed messages for one bus. *pubsub.Bus satisfies it
// via HandleNotification.
type Sink interface {
	HandleNotification(trigger string, payload []byte)
}

// Broker binds the pubsub core to Redis Pub/Sub channels. Like the Postgres
// listener it supports several independent buses over one subscription
// connection, demultiplexing inbound messages to every bus registered on the
// channel. go-redis reconnects the subscription transparently, so no
// reconnect loop is needed here.
//
// Example:
//
//	broker := redis.NewBroker(client, redis.WithBrokerLogger(log))
//	bus := broker.NewBus()
//	go broker.Run(ctx)
type Broker struct {
	client *redis.Client
	sub    *redis.PubSub
	logger *slog.Logger
	origin string

	mu       sync.Mutex
	channels map[string]map[*binding]struct{}
	running  bool
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger configures structured logging. Logging is disabled by
// default.
func WithBrokerLogger(log *slog.Logger) BrokerOption {
	return func(b *Broker) {
		if log != nil {
			b.logger = log
		}
	}
}

// NewBroker creates a Broker on top of an externally-owned client.
func NewBroker(client *redis.Client, opts ...BrokerOption) *Broker {
	b := &Broker{
		client: client,
		// Channels are added and removed dynamically as buses subscribe;
		// the PubSub object itself lives for the broker's lifetime.
		sub:      client.Subscribe(context.Background()),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		origin:   uuid.New().String(),
		channels: make(map[string]map[*binding]struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewBus creates a bus bound to this broker. Redis has no NOTIFY-style hard
// payload limit, so the bus's size guard is disabled; explicit options still
// override.
func (b *Broker) NewBus(opts ...pubsub.Option) *pubsub.Bus {
	bnd := &binding{broker: b}
	opts = append([]pubsub.Option{pubsub.WithMaxPayloadSize(0)}, opts...)
	bus := pubsub.New(bnd, opts...)
	bnd.sink = bus
	return bus
}

// Bind returns a transport handle routing to a custom sink. Most callers want
// NewBus instead.
func (b *Broker) Bind(sink Sink) pubsub.Transport {
	return &binding{broker: b, sink: sink}
}

type binding struct {
	broker *Broker
	sink   Sink
}

func (bn *binding) Listen(ctx context.Context, trigger string) error {
	return bn.broker.listen(ctx, trigger, bn)
}

func (bn *binding) Unlisten(ctx context.Context, trigger string) error {
	return bn.broker.unlisten(ctx, trigger, bn)
}

func (bn *binding) Notify(ctx context.Context, trigger string, payload []byte) error {
	return bn.broker.notify(ctx, trigger, payload)
}

func (b *Broker) listen(ctx context.Context, channel string, bn *binding) error {
	b.mu.Lock()
	set, ok := b.channels[channel]
	if !ok {
		set = make(map[*binding]struct{})
		b.channels[channel] = set
	}
	set[bn] = struct{}{}
	first := len(set) == 1
	b.mu.Unlock()

	if !first {
		return nil
	}
	if err := b.sub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("subscribe %q: %w", channel, err)
	}
	return nil
}

func (b *Broker) unlisten(ctx context.Context, channel string, bn *binding) error {
	b.mu.Lock()
	set := b.channels[channel]
	delete(set, bn)
	last := len(set) == 0
	if last {
		delete(b.channels, channel)
	}
	b.mu.Unlock()

	if !last {
		return nil
	}
	if err := b.sub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("unsubscribe %q: %w", channel, err)
	}
	return nil
}

// notify publishes through the shared client, wrapped in an origin envelope
// so the receive loop can drop our own echoes (Redis delivers to all
// subscribers of a channel, the publishing process included).
func (b *Broker) notify(ctx context.Context, channel string, payload []byte) error {
	data, err := pubsub.EncodeEnvelope(b.origin, payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.client.Publish(ctx, channel, string(data)).Err(); err != nil {
		return fmt.Errorf("publish %q: %w", channel, err)
	}
	return nil
}

// Run consumes the subscription until the context is cancelled. Run returns
// ErrBrokerRunning when called twice concurrently and ErrBrokerClosed when
// the subscription channel is closed underneath it.
func (b *Broker) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrBrokerRunning
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ch := b.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrBrokerClosed
			}
			b.dispatch(msg)
		}
	}
}

// Close tears down the subscription connection. Buses bound to the broker
// should be closed first.
func (b *Broker) Close() error {
	return b.sub.Close()
}

func (b *Broker) dispatch(msg *redis.Message) {
	raw := []byte(msg.Payload)
	payload := raw
	origin := ""
	if env, ok := pubsub.DecodeEnvelope(raw); ok {
		payload = env.Payload
		origin = env.Origin
	}
	if origin == b.origin {
		return
	}

	b.mu.Lock()
	set := b.channels[msg.Channel]
	sinks := make([]Sink, 0, len(set))
	for bn := range set {
		if bn.sink != nil {
			sinks = append(sinks, bn.sink)
		}
	}
	b.mu.Unlock()

	if len(sinks) == 0 {
		b.logger.Debug("message for channel with no bound bus",
			logger.Component("redis_broker"), logger.Trigger(msg.Channel))
		return
	}
	for _, sink := range sinks {
		sink.HandleNotification(msg.Channel, payload)
	}
}
