// Package pg binds the pubsub core to Postgres LISTEN/NOTIFY.
//
// A Listener owns the live notification session: it hijacks one pooled
// connection for LISTEN and drives a reconnecting WaitForNotification loop,
// while NOTIFY and payload-table traffic go through the shared pool. Several
// independent buses can bind to a single Listener; each keeps its own
// registry and the Listener demultiplexes inbound notifications to the buses
// registered on the channel.
//
// # Usage
//
//	cfg := pg.Config{ConnectionString: connURL}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	listener := pg.NewListener(pool, pg.WithListenerLogger(log))
//	bus := listener.NewBus()
//
//	go listener.Run(ctx)
//
//	id, err := bus.Subscribe(ctx, "orders", func(payload any) {
//	    // invoked for local publishes and for NOTIFY traffic from other
//	    // processes listening on "orders"
//	})
//
// Configuration can also come from the environment via core/config:
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//	listener, err := pg.NewListenerWithConfig(ctx, cfg)
//
// # Delivery and echoes
//
// Postgres echoes every NOTIFY back to the issuing process's listening
// session. Because the bus already fans a publish out to its own subscribers
// synchronously, outbound notifications are wrapped in an envelope carrying
// the listener's origin id and inbound echoes with our own id are dropped.
// Bare NOTIFY payloads issued outside this library (psql, triggers) carry no
// envelope and are delivered as-is.
//
// # Oversized payloads
//
// NOTIFY rejects payloads near 8000 bytes. Because the origin envelope adds
// framing on the wire, buses created by NewBus carry a size guard slightly
// below the server ceiling: a payload that would overflow once enveloped is
// reported as an error event and never reaches pg_notify. With
// WithPayloadTable enabled the guard is disabled instead; larger payloads are
// stored in a table (schema applied by Migrate) and the notification carries
// only a key. Receivers fetch the row, and a janitor sweeps rows older than
// the TTL.
//
// Subscribe blocks until the LISTEN statement has been applied on the
// dedicated connection, so a resolved subscription is immediately eligible
// for remote notifications. Delivery remains at-most-once: notifications
// arriving while the listen connection is down are lost, matching the
// semantics of LISTEN/NOTIFY itself.
package pg
