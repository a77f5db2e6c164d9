package pg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/pgpubsub/core/logger"
	"github.com/dmitrymomot/pgpubsub/core/pubsub"
)

const (
	// DefaultReconnectInterval is the pause before re-establishing a lost
	// listen connection.
	DefaultReconnectInterval = 3 * time.Second

	// maxInlineNotifyBytes is the largest payload carried inline through
	// pg_notify. It leaves headroom under the server's 8000-byte NOTIFY
	// ceiling for the origin envelope framing. Without the payload table it
	// bounds the bus size guard; with the table, larger payloads are stored
	// out of band instead.
	maxInlineNotifyBytes = 7800
)

// Sink receives demultiplexed notifications for one bus. *pubsub.Bus
// satisfies it via HandleNotification.
type Sink interface {
	HandleNotification(trigger string, payload []byte)
}

// channelRequest asks the receive loop to issue LISTEN or UNLISTEN on the
// dedicated connection. done is buffered so an abandoned request cannot block
// the loop.
type channelRequest struct {
	channel string
	listen  bool
	done    chan error
}

// Listener owns the live LISTEN/NOTIFY session: a dedicated connection for
// receiving notifications plus the shared pool for NOTIFY and payload-table
// work. Multiple independent buses may bind to one Listener; inbound
// notifications are demultiplexed to every bound bus registered on the
// channel, and LISTEN/UNLISTEN are issued only on the first/last registration
// across all of them.
//
// Example:
//
//	listener := pg.NewListener(pool, pg.WithListenerLogger(log))
//	bus := listener.NewBus()
//
//	go func() {
//	    if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	        log.Error("listener stopped", logger.Error(err))
//	    }
//	}()
type Listener struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	origin    string
	store     *payloadStore
	reconnect time.Duration
	requests  chan *channelRequest

	mu       sync.Mutex
	channels map[string]map[*binding]struct{}
	wake     context.CancelFunc
	running  bool
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger configures structured logging. Logging is disabled by
// default.
func WithListenerLogger(log *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithReconnectInterval sets the pause before reconnecting a lost listen
// connection. Non-positive values are ignored.
func WithReconnectInterval(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.reconnect = d
		}
	}
}

// WithPayloadTable enables out-of-band storage for payloads too large for
// NOTIFY. Oversized payloads are written to the table and the notification
// carries only a key; the receiving side fetches the row. Rows older than ttl
// are swept by a janitor goroutine driven by Run. An empty table name or
// non-positive ttl falls back to the defaults.
//
// Buses created via NewBus on a payload-table listener have the in-process
// size guard disabled, since the transport no longer has a hard limit.
func WithPayloadTable(table string, ttl time.Duration) ListenerOption {
	return func(l *Listener) {
		if table == "" {
			table = DefaultPayloadTable
		}
		if ttl <= 0 {
			ttl = DefaultPayloadTTL
		}
		l.store = &payloadStore{table: table, ttl: ttl}
	}
}

// NewListener creates a Listener on top of an externally-owned pool.
func NewListener(pool *pgxpool.Pool, opts ...ListenerOption) *Listener {
	l := &Listener{
		pool:      pool,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		origin:    uuid.New().String(),
		reconnect: DefaultReconnectInterval,
		requests:  make(chan *channelRequest, 16),
		channels:  make(map[string]map[*binding]struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.store != nil {
		l.store.pool = pool
		l.store.logger = l.logger
	}
	return l
}

// NewBus creates a bus bound to this listener. The bus's size guard is set to
// the inline NOTIFY ceiling, so a payload that would overflow the server limit
// once enveloped is rejected as an error event instead of failing at
// pg_notify. With the payload table enabled the guard is disabled entirely.
// Explicit options still override.
func (l *Listener) NewBus(opts ...pubsub.Option) *pubsub.Bus {
	bnd := &binding{listener: l}
	size := maxInlineNotifyBytes
	if l.store != nil {
		size = 0
	}
	opts = append([]pubsub.Option{pubsub.WithMaxPayloadSize(size)}, opts...)
	bus := pubsub.New(bnd, opts...)
	bnd.sink = bus
	return bus
}

// Bind returns a transport handle routing to a custom sink. Most callers want
// NewBus instead.
func (l *Listener) Bind(sink Sink) pubsub.Transport {
	return &binding{listener: l, sink: sink}
}

// binding is the per-bus transport handle. Registering it under a channel in
// the listener's demux table is what makes its sink eligible for inbound
// notifications on that channel.
type binding struct {
	listener *Listener
	sink     Sink
}

func (b *binding) Listen(ctx context.Context, trigger string) error {
	return b.listener.listen(ctx, trigger, b)
}

func (b *binding) Unlisten(ctx context.Context, trigger string) error {
	return b.listener.unlisten(ctx, trigger, b)
}

func (b *binding) Notify(ctx context.Context, trigger string, payload []byte) error {
	return b.listener.notify(ctx, trigger, payload)
}

// listen registers the binding for the channel and, for the first
// registration across all bindings, issues LISTEN on the dedicated
// connection. Before Run starts, registration alone suffices: the receive
// loop establishes LISTEN for every active channel when it comes up.
func (l *Listener) listen(ctx context.Context, channel string, b *binding) error {
	l.mu.Lock()
	set, ok := l.channels[channel]
	if !ok {
		set = make(map[*binding]struct{})
		l.channels[channel] = set
	}
	set[b] = struct{}{}
	first := len(set) == 1
	running := l.running
	l.mu.Unlock()

	if !first || !running {
		return nil
	}
	return l.enqueue(ctx, channel, true)
}

// unlisten deregisters the binding and issues UNLISTEN once the last binding
// for the channel is gone.
func (l *Listener) unlisten(ctx context.Context, channel string, b *binding) error {
	l.mu.Lock()
	set := l.channels[channel]
	delete(set, b)
	last := len(set) == 0
	if last {
		delete(l.channels, channel)
	}
	running := l.running
	l.mu.Unlock()

	if !last || !running {
		return nil
	}
	return l.enqueue(ctx, channel, false)
}

// notify sends the payload through pg_notify on the shared pool, wrapped in
// an origin envelope so the receive loop can drop our own echoes. With the
// payload table enabled, payloads above the inline ceiling are stored and
// only their key travels through NOTIFY.
func (l *Listener) notify(ctx context.Context, channel string, payload []byte) error {
	var (
		data []byte
		err  error
	)
	if l.store != nil && len(payload) > maxInlineNotifyBytes {
		key, perr := l.store.put(ctx, channel, payload)
		if perr != nil {
			return fmt.Errorf("store payload for %q: %w", channel, perr)
		}
		data, err = pubsub.EncodeEnvelopeKey(l.origin, key)
	} else {
		data, err = pubsub.EncodeEnvelope(l.origin, payload)
	}
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if _, err := l.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(data)); err != nil {
		return fmt.Errorf("pg_notify %q: %w", channel, err)
	}
	return nil
}

// Run drives the listener until the context is cancelled: the notification
// receive loop with reconnect handling, plus the payload janitor when the
// payload table is enabled. Run returns ErrListenerRunning when called twice
// concurrently.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrListenerRunning
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.receiveLoop(ctx) })
	if l.store != nil {
		g.Go(func() error { return l.store.run(ctx) })
	}
	return g.Wait()
}

func (l *Listener) receiveLoop(ctx context.Context) error {
	reconnects := 0
	for {
		started := time.Now()
		err := l.receiveOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reconnects++
		l.logger.Error("listen connection lost; reconnecting",
			logger.Component("pg_listener"),
			logger.Elapsed(started),
			logger.RetryCount(reconnects),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.reconnect):
		}
	}
}

// receiveOnce owns one dedicated connection for its lifetime: it hijacks a
// pooled connection (LISTEN registrations are session state and must not leak
// back into the pool), re-establishes LISTEN for every active channel, and
// then alternates between applying queued LISTEN/UNLISTEN requests and
// waiting for notifications. Subscribe-time requests cancel the wait via the
// wake hook so they are applied promptly.
func (l *Listener) receiveOnce(ctx context.Context) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	conn := pooled.Hijack()
	defer conn.Close(context.WithoutCancel(ctx))

	for _, channel := range l.activeChannels() {
		if _, err := conn.Exec(ctx, "LISTEN "+quoteChannel(channel)); err != nil {
			return fmt.Errorf("listen %q: %w", channel, err)
		}
	}

	for {
		waitCtx, cancel := context.WithCancel(ctx)
		l.setWake(cancel)

		if err := l.applyRequests(ctx, conn); err != nil {
			l.setWake(nil)
			cancel()
			return err
		}

		n, err := conn.WaitForNotification(waitCtx)
		l.setWake(nil)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.Canceled) {
				continue // woken to apply channel changes
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		l.dispatch(ctx, n)
	}
}

// applyRequests drains queued LISTEN/UNLISTEN requests onto the dedicated
// connection, acknowledging each. An exec failure is reported to the waiter
// and tears the connection down for a reconnect cycle.
func (l *Listener) applyRequests(ctx context.Context, conn *pgx.Conn) error {
	for {
		select {
		case req := <-l.requests:
			verb := "LISTEN "
			if !req.listen {
				verb = "UNLISTEN "
			}
			_, err := conn.Exec(ctx, verb+quoteChannel(req.channel))
			req.done <- err
			if err != nil {
				return fmt.Errorf("%s%q: %w", verb, req.channel, err)
			}
		default:
			return nil
		}
	}
}

// enqueue hands a channel change to the receive loop and waits for it to be
// applied, so Subscribe resolves only after the LISTEN actually completed.
func (l *Listener) enqueue(ctx context.Context, channel string, listen bool) error {
	req := &channelRequest{channel: channel, listen: listen, done: make(chan error, 1)}

	select {
	case l.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.wakeReceiver()

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch unwraps one inbound notification and fans it out to every sink
// bound on the channel. Our own echoes (local fan-out already happened
// synchronously inside Publish) and undeliverable payload references are
// dropped.
func (l *Listener) dispatch(ctx context.Context, n *pgconn.Notification) {
	payload, origin, ok := l.unwrap(ctx, n)
	if !ok || origin == l.origin {
		return
	}

	l.mu.Lock()
	set := l.channels[n.Channel]
	sinks := make([]Sink, 0, len(set))
	for b := range set {
		if b.sink != nil {
			sinks = append(sinks, b.sink)
		}
	}
	l.mu.Unlock()

	for _, sink := range sinks {
		sink.HandleNotification(n.Channel, payload)
	}
}

// unwrap decodes the origin envelope and resolves payload-table references.
// Notifications issued outside this library carry no envelope and pass
// through as-is.
func (l *Listener) unwrap(ctx context.Context, n *pgconn.Notification) (payload []byte, origin string, ok bool) {
	raw := []byte(n.Payload)

	env, enveloped := pubsub.DecodeEnvelope(raw)
	if !enveloped {
		return raw, "", true
	}
	if env.Key == "" {
		return env.Payload, env.Origin, true
	}

	if l.store == nil {
		l.logger.Warn("payload reference received but payload table is disabled",
			logger.Component("pg_listener"), logger.Trigger(n.Channel))
		return nil, "", false
	}
	stored, err := l.store.get(ctx, env.Key)
	if err != nil {
		l.logger.Error("fetch stored payload",
			logger.Component("pg_listener"), logger.Trigger(n.Channel), logger.Error(err))
		return nil, "", false
	}
	return stored, env.Origin, true
}

func (l *Listener) activeChannels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	channels := make([]string, 0, len(l.channels))
	for channel := range l.channels {
		channels = append(channels, channel)
	}
	return channels
}

func (l *Listener) setWake(cancel context.CancelFunc) {
	l.mu.Lock()
	l.wake = cancel
	l.mu.Unlock()
}

func (l *Listener) wakeReceiver() {
	l.mu.Lock()
	cancel := l.wake
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// quoteChannel makes an arbitrary trigger name safe to splice into LISTEN and
// UNLISTEN, which take identifiers rather than parameters.
func quoteChannel(channel string) string {
	return pgx.Identifier{channel}.Sanitize()
}
