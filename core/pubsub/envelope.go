package pubsub

import "encoding/json"

// Envelope is the wire wrapper transport bindings put around outbound
// payloads. Because the bus fans a publish out to its own subscribers
// synchronously, a transport that echoes notifications back to the publishing
// process (as both Postgres LISTEN/NOTIFY and Redis Pub/Sub do) would deliver
// everything twice; the origin id lets the receiving side drop its own
// echoes. The payload-table key supports backends that stash oversized
// payloads out of band and notify only a reference.
//
// The envelope is a transport concern: the bus itself never produces or
// consumes one.
type Envelope struct {
	Origin  string          `json:"o"`
	Payload json.RawMessage `json:"p,omitempty"`
	Key     string          `json:"k,omitempty"`
}

// EncodeEnvelope wraps a serialized payload with the transport's origin id.
func EncodeEnvelope(origin string, payload []byte) ([]byte, error) {
	return json.Marshal(Envelope{Origin: origin, Payload: payload})
}

// EncodeEnvelopeKey wraps a payload-table key with the transport's origin id.
func EncodeEnvelopeKey(origin, key string) ([]byte, error) {
	return json.Marshal(Envelope{Origin: origin, Key: key})
}

// DecodeEnvelope parses an inbound notification. Notifications published
// outside this library (e.g. a bare NOTIFY issued from psql) carry no
// envelope; those report ok == false and should be delivered as-is.
func DecodeEnvelope(raw []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Origin == "" {
		return Envelope{}, false
	}
	return env, true
}
