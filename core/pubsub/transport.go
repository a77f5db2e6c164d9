package pubsub

import "context"

// Transport is the collaborator surface a notification backend exposes to the
// bus. Implementations own the live connection to the notification source
// (e.g. a Postgres LISTEN/NOTIFY session) and deliver inbound events back via
// Bus.HandleNotification.
//
// Listen and Unlisten must be idempotent: the bus issues Listen only for the
// first subscriber of a trigger and Unlisten only after the last one leaves,
// but reconnect logic inside a transport may replay either.
type Transport interface {
	// Listen starts delivery of remote notifications for the trigger.
	Listen(ctx context.Context, trigger string) error

	// Unlisten stops delivery of remote notifications for the trigger.
	Unlisten(ctx context.Context, trigger string) error

	// Notify hands a serialized payload to the backend for cross-process
	// delivery. The bus has already fanned the payload out to its own
	// subscribers; Notify is only about reaching other processes.
	Notify(ctx context.Context, trigger string, payload []byte) error
}

// NopTransport backs purely in-process buses. All operations succeed and no
// remote delivery ever happens, which makes it the natural default for tests
// and single-process deployments.
type NopTransport struct{}

// Listen implements Transport.
func (NopTransport) Listen(ctx context.Context, trigger string) error { return nil }

// Unlisten implements Transport.
func (NopTransport) Unlisten(ctx context.Context, trigger string) error { return nil }

// Notify implements Transport.
func (NopTransport) Notify(ctx context.Context, trigger string, payload []byte) error { return nil }
