package redis

import (
	"context"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgpubsub/core/pubsub"
)

type recordingSink struct {
	mu       sync.Mutex
	triggers []string
	payloads []string
}

func (s *recordingSink) HandleNotification(trigger string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, trigger)
	s.payloads = append(s.payloads, string(payload))
}

// testBroker builds a broker over a client that never connects: the tests
// only exercise the demux path, which is pure bookkeeping.
func testBroker() *Broker {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:6379"})
	return NewBroker(client)
}

// register wires a sink into the demux table directly, bypassing the network
// subscribe the Transport path would issue.
func (b *Broker) register(channel string, sink Sink) {
	bn := &binding{broker: b, sink: sink}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.channels[channel]
	if !ok {
		set = make(map[*binding]struct{})
		b.channels[channel] = set
	}
	set[bn] = struct{}{}
}

func TestBroker_Dispatch(t *testing.T) {
	t.Parallel()

	t.Run("demultiplexes to every bound sink", func(t *testing.T) {
		t.Parallel()

		b := testBroker()
		sink1 := &recordingSink{}
		sink2 := &recordingSink{}
		other := &recordingSink{}
		b.register("test", sink1)
		b.register("test", sink2)
		b.register("other", other)

		data, err := pubsub.EncodeEnvelope("remote-origin", []byte(`{"n":1}`))
		require.NoError(t, err)

		b.dispatch(&goredis.Message{Channel: "test", Payload: string(data)})

		assert.Equal(t, []string{"test"}, sink1.triggers)
		assert.JSONEq(t, `{"n":1}`, sink1.payloads[0])
		assert.Equal(t, []string{"test"}, sink2.triggers)
		assert.Empty(t, other.triggers)
	})

	t.Run("drops own echoes", func(t *testing.T) {
		t.Parallel()

		b := testBroker()
		sink := &recordingSink{}
		b.register("test", sink)

		data, err := pubsub.EncodeEnvelope(b.origin, []byte(`{"n":1}`))
		require.NoError(t, err)

		b.dispatch(&goredis.Message{Channel: "test", Payload: string(data)})
		assert.Empty(t, sink.triggers)
	})

	t.Run("bare messages pass through as-is", func(t *testing.T) {
		t.Parallel()

		b := testBroker()
		sink := &recordingSink{}
		b.register("test", sink)

		b.dispatch(&goredis.Message{Channel: "test", Payload: "plain text"})

		require.Len(t, sink.payloads, 1)
		assert.Equal(t, "plain text", sink.payloads[0])
	})
}

func TestConnect_Validation(t *testing.T) {
	t.Parallel()

	t.Run("empty connection URL", func(t *testing.T) {
		t.Parallel()

		_, err := Connect(context.Background(), Config{})
		require.ErrorIs(t, err, ErrEmptyConnectionURL)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		t.Parallel()

		_, err := Connect(context.Background(), Config{ConnectionURL: "http://localhost:6379"})
		require.ErrorIs(t, err, ErrFailedToParseConnString)
	})
}
