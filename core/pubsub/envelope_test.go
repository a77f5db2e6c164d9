package pubsub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgpubsub/core/pubsub"
)

func TestEnvelope(t *testing.T) {
	t.Parallel()

	t.Run("payload round-trip", func(t *testing.T) {
		t.Parallel()

		data, err := pubsub.EncodeEnvelope("origin-1", []byte(`{"test":true}`))
		require.NoError(t, err)

		env, ok := pubsub.DecodeEnvelope(data)
		require.True(t, ok)
		assert.Equal(t, "origin-1", env.Origin)
		assert.JSONEq(t, `{"test":true}`, string(env.Payload))
		assert.Empty(t, env.Key)
	})

	t.Run("key round-trip", func(t *testing.T) {
		t.Parallel()

		data, err := pubsub.EncodeEnvelopeKey("origin-1", "a1b2")
		require.NoError(t, err)

		env, ok := pubsub.DecodeEnvelope(data)
		require.True(t, ok)
		assert.Equal(t, "origin-1", env.Origin)
		assert.Equal(t, "a1b2", env.Key)
		assert.Empty(t, env.Payload)
	})

	t.Run("foreign notifications carry no envelope", func(t *testing.T) {
		t.Parallel()

		_, ok := pubsub.DecodeEnvelope([]byte("bare notify payload"))
		assert.False(t, ok)

		// JSON without an origin field is also foreign.
		_, ok = pubsub.DecodeEnvelope([]byte(`{"test":true}`))
		assert.False(t, ok)
	})
}
