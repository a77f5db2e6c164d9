// Package pubsub implements an in-process publish/subscribe dispatcher
// designed to be driven by an external asynchronous notification channel,
// such as Postgres LISTEN/NOTIFY.
//
// # Core Components
//
// Bus keeps the subscription registry: it maps trigger names to ordered sets
// of subscriber callbacks, assigns monotonically increasing subscription ids,
// and fans published payloads out synchronously in registration order.
//
// Transport is the pluggable backend surface. The bus mirrors every publish
// to the transport for cross-process delivery and receives remote
// notifications back through HandleNotification. NopTransport backs purely
// in-process buses.
//
// MessageHandler is a single optional transform hook applied to every payload
// exactly once per event, before fan-out, so all subscribers of one publish
// observe the same transformed value.
//
// The size guard rejects payloads whose serialized form exceeds the transport
// limit (8000 characters for Postgres NOTIFY). Rejections are never surfaced
// as errors from Publish; they are published as ErrorEvent values on the
// reserved ErrorTrigger, keeping publish fire-and-forget.
//
// Iterator adapts the callback-driven subscription primitive into a
// pull-based lazy sequence over one or more triggers, with unbounded internal
// queuing and explicit termination.
//
// # Basic Usage
//
//	bus := pubsub.New(nil,
//	    pubsub.WithMessageHandler(func(payload any) any {
//	        return Wrapped{Payload: payload}
//	    }),
//	    pubsub.WithLogger(logger),
//	)
//	defer bus.Close(ctx)
//
//	id, err := bus.Subscribe(ctx, "user.created", func(payload any) {
//	    // handle event
//	})
//	if err != nil {
//	    return err
//	}
//	defer bus.Unsubscribe(ctx, id)
//
//	if err := bus.Publish(ctx, "user.created", map[string]any{"id": "123"}); err != nil {
//	    return err
//	}
//
// # Error Channel
//
// Internal delivery failures flow through the same subscribe/publish fabric
// instead of a separate exception path:
//
//	_, _ = bus.Subscribe(ctx, pubsub.ErrorTrigger, func(payload any) {
//	    evt := payload.(pubsub.ErrorEvent)
//	    log.Println("delivery failure:", evt.Message)
//	})
//
// # Iterators
//
// Iterator converts push-style dispatch into consumer-driven pulls:
//
//	it, err := bus.Iterator(ctx, "test", "test2")
//	if err != nil {
//	    return err
//	}
//	defer it.Close(ctx)
//
//	for {
//	    payload, ok, err := it.Next(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    process(payload)
//	}
//
// # Transports
//
// Cross-process deployments bind the bus to a backend from the integration
// packages:
//
//	listener := pg.NewListener(pool)
//	bus := listener.NewBus()
//	go listener.Run(ctx)
//
// Multiple independent buses may share one transport connection, each with
// its own registry; the binding demultiplexes inbound notifications to the
// correct bus.
//
// # Delivery Semantics
//
// Delivery is at-most-once and best-effort. Dispatch performs no retry and a
// dropped notification is never replayed. Subscriber callbacks run
// synchronously in the dispatching goroutine; a panicking callback is
// recovered and logged, and delivery continues with the remaining
// subscribers of the same pass.
package pubsub
