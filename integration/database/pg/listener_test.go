package pg

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
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

func TestQuoteChannel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"orders"`, quoteChannel("orders"))
	assert.Equal(t, `"user.created"`, quoteChannel("user.created"))
	// Embedded quotes must not break out of the identifier.
	assert.Equal(t, `"a""b"`, quoteChannel(`a"b`))
}

func TestListener_ChannelBookkeeping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewListener(nil)

	sink1 := &recordingSink{}
	sink2 := &recordingSink{}
	b1 := l.Bind(sink1)
	b2 := l.Bind(sink2)

	// Before Run, registration alone is enough; LISTEN is replayed when the
	// receive loop comes up.
	require.NoError(t, b1.Listen(ctx, "test"))
	require.NoError(t, b2.Listen(ctx, "test"))
	require.NoError(t, b2.Listen(ctx, "other"))

	assert.ElementsMatch(t, []string{"test", "other"}, l.activeChannels())

	require.NoError(t, b2.Unlisten(ctx, "test"))
	assert.ElementsMatch(t, []string{"test", "other"}, l.activeChannels(),
		"channel stays active while any binding remains")

	require.NoError(t, b1.Unlisten(ctx, "test"))
	assert.ElementsMatch(t, []string{"other"}, l.activeChannels())
}

func TestListener_Dispatch(t *testing.T) {
	t.Parallel()

	t.Run("demultiplexes to every bound sink", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		l := NewListener(nil)

		sink1 := &recordingSink{}
		sink2 := &recordingSink{}
		other := &recordingSink{}
		require.NoError(t, l.Bind(sink1).Listen(ctx, "test"))
		require.NoError(t, l.Bind(sink2).Listen(ctx, "test"))
		require.NoError(t, l.Bind(other).Listen(ctx, "other"))

		data, err := pubsub.EncodeEnvelope("remote-origin", []byte(`{"n":1}`))
		require.NoError(t, err)

		l.dispatch(ctx, &pgconn.Notification{Channel: "test", Payload: string(data)})

		assert.Equal(t, []string{"test"}, sink1.triggers)
		assert.JSONEq(t, `{"n":1}`, sink1.payloads[0])
		assert.Equal(t, []string{"test"}, sink2.triggers)
		assert.Empty(t, other.triggers)
	})

	t.Run("drops own echoes", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		l := NewListener(nil)

		sink := &recordingSink{}
		require.NoError(t, l.Bind(sink).Listen(ctx, "test"))

		data, err := pubsub.EncodeEnvelope(l.origin, []byte(`{"n":1}`))
		require.NoError(t, err)

		l.dispatch(ctx, &pgconn.Notification{Channel: "test", Payload: string(data)})
		assert.Empty(t, sink.triggers, "the local fan-out already happened at publish time")
	})

	t.Run("bare notifications pass through as-is", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		l := NewListener(nil)

		sink := &recordingSink{}
		require.NoError(t, l.Bind(sink).Listen(ctx, "test"))

		l.dispatch(ctx, &pgconn.Notification{Channel: "test", Payload: "issued from psql"})

		require.Len(t, sink.payloads, 1)
		assert.Equal(t, "issued from psql", sink.payloads[0])
	})

	t.Run("payload reference without a payload table is dropped", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		l := NewListener(nil)

		sink := &recordingSink{}
		require.NoError(t, l.Bind(sink).Listen(ctx, "test"))

		data, err := pubsub.EncodeEnvelopeKey("remote-origin", "0d4cdbc8-4a35-4b0f-a5d4-26b1a7a3bd67")
		require.NoError(t, err)

		l.dispatch(ctx, &pgconn.Notification{Channel: "test", Payload: string(data)})
		assert.Empty(t, sink.triggers)
	})
}

func TestListener_NewBus(t *testing.T) {
	t.Parallel()

	t.Run("bus receives demultiplexed notifications", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		l := NewListener(nil)
		bus := l.NewBus()

		var got any
		_, err := bus.Subscribe(ctx, "test", func(payload any) { got = payload })
		require.NoError(t, err)

		data, err := pubsub.EncodeEnvelope("remote-origin", []byte(`{"test":true}`))
		require.NoError(t, err)
		l.dispatch(ctx, &pgconn.Notification{Channel: "test", Payload: string(data)})

		assert.Equal(t, map[string]any{"test": true}, got)
	})

	t.Run("size guard keeps headroom for the envelope", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		l := NewListener(nil)
		bus := l.NewBus()

		var failure any
		_, err := bus.Subscribe(ctx, pubsub.ErrorTrigger, func(payload any) { failure = payload })
		require.NoError(t, err)

		invoked := false
		_, err = bus.Subscribe(ctx, "test", func(any) { invoked = true })
		require.NoError(t, err)

		// Serialized form is one byte over the inline ceiling; enveloped it
		// would exceed the server's NOTIFY limit, so it must be rejected
		// before pg_notify is ever attempted (the nil pool would be hit
		// otherwise) and Publish must still succeed.
		require.NoError(t, bus.Publish(ctx, "test", strings.Repeat("a", maxInlineNotifyBytes-1)))

		assert.False(t, invoked)
		evt, ok := failure.(pubsub.ErrorEvent)
		require.True(t, ok)
		assert.Equal(t, pubsub.MessagePayloadTooLong, evt.Message)
	})

	t.Run("payload table falls back to defaults", func(t *testing.T) {
		t.Parallel()

		l := NewListener(nil, WithPayloadTable("", 0))
		require.NotNil(t, l.store)
		assert.Equal(t, DefaultPayloadTable, l.store.table)
		assert.Equal(t, DefaultPayloadTTL, l.store.ttl)
	})
}

func TestListenerOptions(t *testing.T) {
	t.Parallel()

	l := NewListener(nil,
		WithReconnectInterval(0), // ignored
		WithPayloadTable("custom_payloads", DefaultPayloadTTL/2),
	)

	assert.Equal(t, DefaultReconnectInterval, l.reconnect)
	assert.Equal(t, "custom_payloads", l.store.table)
	assert.Equal(t, DefaultPayloadTTL/2, l.store.ttl)
}
