// Package redis binds the pubsub core to Redis Pub/Sub.
//
// It demonstrates the pluggable-backend design of the Transport interface:
// the same bus API works over Postgres LISTEN/NOTIFY or Redis channels by
// swapping the binding. A Broker owns one subscription connection, adds and
// removes channels as buses subscribe, and demultiplexes inbound messages to
// every bound bus registered on the channel. Self-published echoes are
// dropped via the same origin-envelope scheme the Postgres binding uses.
//
// # Usage
//
//	client, err := redis.Connect(ctx, redis.Config{ConnectionURL: url})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	broker := redis.NewBroker(client)
//	defer broker.Close()
//	bus := broker.NewBus()
//
//	go broker.Run(ctx)
//
// Unlike NOTIFY, Redis imposes no hard payload limit, so buses created via
// NewBus have the in-process size guard disabled. Delivery remains
// at-most-once: messages published while the subscription connection is down
// are lost, matching Redis Pub/Sub semantics.
package redis
