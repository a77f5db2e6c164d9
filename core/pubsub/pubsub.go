package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/pgpubsub/core/logger"
)

const (
	// DefaultMaxPayloadSize is the serialized payload ceiling enforced by the
	// size guard. It matches the hard limit of the Postgres NOTIFY transport.
	DefaultMaxPayloadSize = 8000

	// ErrorTrigger is the reserved trigger internal delivery failures are
	// published on. It is an ordinary trigger in every other respect:
	// subscribe to it like any other to observe failures.
	ErrorTrigger = "error"

	// MessagePayloadTooLong is the stable ErrorEvent message emitted when the
	// size guard rejects a payload.
	MessagePayloadTooLong = "payload string too long"
)

// SubscriptionID identifies a single (trigger, callback) registration.
// IDs are monotonically increasing for the lifetime of a Bus and are never
// reused while the bus lives, so collisions with live subscriptions are
// impossible.
type SubscriptionID int64

// Handler is a subscriber callback. It receives the transformed payload of
// every event published on the subscribed trigger.
type Handler func(payload any)

// MessageHandler is the optional transform hook applied to every payload
// immediately before fan-out. It runs exactly once per event, not once per
// subscriber, so all subscribers of one publish observe the same value.
type MessageHandler func(payload any) any

// ErrorEvent is the payload published on ErrorTrigger when the bus itself
// fails to deliver a message (currently only size-guard rejections).
type ErrorEvent struct {
	Message string `json:"message"`
}

type subscription struct {
	id      SubscriptionID
	trigger string
	fn      Handler
}

// Bus is a publish/subscribe dispatcher. It keeps the subscription registry,
// fans published payloads out to matching subscribers synchronously and in
// registration order, and mirrors every publish to the configured Transport
// for cross-process delivery.
//
// One Bus owns one registry. Multiple independent buses may share a single
// transport connection; the transport binding is responsible for
// demultiplexing inbound notifications to the right bus.
//
// Delivery is at-most-once and best-effort, mirroring the guarantees of the
// underlying notification channel. Nothing is persisted and nothing is
// replayed.
//
// Example:
//
//	bus := pubsub.New(nil) // in-process only
//	defer bus.Close(ctx)
//
//	id, err := bus.Subscribe(ctx, "orders", func(payload any) {
//	    log.Println("order event:", payload)
//	})
//	if err != nil {
//	    return err
//	}
//	defer bus.Unsubscribe(ctx, id)
//
//	if err := bus.Publish(ctx, "orders", map[string]any{"id": 42}); err != nil {
//	    return err
//	}
type Bus struct {
	transport  Transport
	transform  MessageHandler
	maxPayload int
	logger     *slog.Logger

	mu     sync.RWMutex
	nextID SubscriptionID
	subs   map[string][]*subscription
	byID   map[SubscriptionID]*subscription
	iters  map[*Iterator]struct{}
	closed bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithMessageHandler sets the transform hook applied to every payload before
// fan-out. When unset, payloads are delivered as-is.
func WithMessageHandler(fn MessageHandler) Option {
	return func(b *Bus) {
		b.transform = fn
	}
}

// WithMaxPayloadSize overrides the size guard limit for serialized payloads.
// Zero disables the guard entirely, which is appropriate when the transport
// handles oversized payloads itself (e.g. the Postgres binding with a payload
// table enabled). Negative values are ignored.
func WithMaxPayloadSize(size int) Option {
	return func(b *Bus) {
		if size >= 0 {
			b.maxPayload = size
		}
	}
}

// WithLogger configures structured logging for the bus. Logging is disabled
// by default.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.logger = log
		}
	}
}

// New creates a Bus backed by the given transport. A nil transport falls back
// to NopTransport, producing a purely in-process bus.
func New(transport Transport, opts ...Option) *Bus {
	if transport == nil {
		transport = NopTransport{}
	}

	b := &Bus{
		transport:  transport,
		maxPayload: DefaultMaxPayloadSize,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		subs:       make(map[string][]*subscription),
		byID:       make(map[SubscriptionID]*subscription),
		iters:      make(map[*Iterator]struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers the callback under the trigger and returns a fresh
// subscription id. The id is returned only after any transport setup
// completed: for the first subscriber of a trigger the transport's Listen is
// issued and must succeed, otherwise the registration is rolled back.
func (b *Bus) Subscribe(ctx context.Context, trigger string, fn Handler) (SubscriptionID, error) {
	if fn == nil {
		return 0, ErrNilHandler
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrBusClosed
	}
	b.nextID++
	sub := &subscription{id: b.nextID, trigger: trigger, fn: fn}
	first := len(b.subs[trigger]) == 0
	b.subs[trigger] = append(b.subs[trigger], sub)
	b.byID[sub.id] = sub
	b.mu.Unlock()

	if first {
		if err := b.transport.Listen(ctx, trigger); err != nil {
			b.remove(sub.id)
			return 0, fmt.Errorf("listen on %q: %w", trigger, err)
		}
	}

	b.logger.DebugContext(ctx, "subscribed",
		logger.Trigger(trigger), logger.SubscriptionID(int64(sub.id)))
	return sub.id, nil
}

// Unsubscribe removes the subscription. Unknown or already removed ids are a
// silent no-op, never an error. When the last subscriber of a trigger leaves,
// the trigger entry is pruned and the transport's Unlisten is issued.
func (b *Bus) Unsubscribe(ctx context.Context, id SubscriptionID) error {
	trigger, removed, last := b.remove(id)
	if !removed {
		return nil
	}

	b.logger.DebugContext(ctx, "unsubscribed",
		logger.Trigger(trigger), logger.SubscriptionID(int64(id)))

	if last {
		if err := b.transport.Unlisten(ctx, trigger); err != nil {
			return fmt.Errorf("unlisten on %q: %w", trigger, err)
		}
	}
	return nil
}

// remove deletes the subscription from the registry and reports whether it
// existed and whether it was the last one for its trigger.
func (b *Bus) remove(id SubscriptionID) (trigger string, removed, last bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return "", false, false
	}
	delete(b.byID, id)

	list := b.subs[sub.trigger]
	for i, s := range list {
		if s.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, sub.trigger)
		return sub.trigger, true, true
	}
	b.subs[sub.trigger] = list
	return sub.trigger, true, false
}

// Publish serializes the payload, enforces the size guard, fans the payload
// out to the trigger's current subscribers and hands the serialized form to
// the transport for cross-process delivery.
//
// Publish succeeds (returns nil) regardless of whether any subscriber exists;
// a trigger with no subscribers is a no-op sink. A size-guard rejection also
// returns nil: the failure is observable only as an ErrorEvent on
// ErrorTrigger, keeping publish fire-and-forget. A non-nil error means the
// payload could not be serialized or the transport rejected the notify.
func (b *Bus) Publish(ctx context.Context, trigger string, payload any) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if b.maxPayload > 0 && len(data) > b.maxPayload {
		b.logger.WarnContext(ctx, "payload rejected by size guard",
			logger.Trigger(trigger), slog.Int("size", len(data)), slog.Int("limit", b.maxPayload))
		// Failure reports keep their stable shape: no transform, no transport.
		b.fanout(ErrorTrigger, ErrorEvent{Message: MessagePayloadTooLong})
		return nil
	}

	b.dispatch(trigger, payload)

	if err := b.transport.Notify(ctx, trigger, data); err != nil {
		return fmt.Errorf("notify %q: %w", trigger, err)
	}
	return nil
}

// HandleNotification is the inbound entry point for transport bindings. The
// raw payload is JSON-decoded (falling back to the raw text for non-JSON
// notifications), transformed and fanned out to the trigger's subscribers.
func (b *Bus) HandleNotification(trigger string, raw []byte) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = string(raw)
	}
	b.dispatch(trigger, payload)
}

// dispatch applies the transform once and fans the result out.
func (b *Bus) dispatch(trigger string, payload any) {
	if b.transform != nil {
		payload = b.transform(payload)
	}
	b.fanout(trigger, payload)
}

// fanout invokes every subscriber registered for the trigger at the moment of
// the call, synchronously and in registration order. The subscriber list is
// snapshotted copy-on-read, so a callback unsubscribing itself (or anyone
// else) mid-dispatch cannot corrupt the in-flight iteration.
func (b *Bus) fanout(trigger string, payload any) {
	b.mu.RLock()
	list := b.subs[trigger]
	snapshot := make([]*subscription, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		b.invoke(sub, payload)
	}
}

// invoke isolates one subscriber from the rest of the dispatch pass: a
// panicking callback is recovered and logged, and delivery continues with the
// remaining subscribers.
func (b *Bus) invoke(sub *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				logger.Trigger(sub.trigger),
				logger.SubscriptionID(int64(sub.id)),
				slog.Any("panic", r))
		}
	}()
	sub.fn(payload)
}

// Close removes every subscription, terminates every outstanding iterator and
// issues Unlisten for each active trigger. Subsequent Subscribe and Publish
// calls return ErrBusClosed. Closing an already closed bus returns
// ErrBusClosed.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.closed = true
	triggers := make([]string, 0, len(b.subs))
	for trigger := range b.subs {
		triggers = append(triggers, trigger)
	}
	iters := make([]*Iterator, 0, len(b.iters))
	for it := range b.iters {
		iters = append(iters, it)
	}
	b.subs = make(map[string][]*subscription)
	b.byID = make(map[SubscriptionID]*subscription)
	b.iters = make(map[*Iterator]struct{})
	b.mu.Unlock()

	for _, it := range iters {
		it.terminate()
	}

	var errs []error
	for _, trigger := range triggers {
		if err := b.transport.Unlisten(ctx, trigger); err != nil {
			errs = append(errs, fmt.Errorf("unlisten on %q: %w", trigger, err))
		}
	}

	b.logger.InfoContext(ctx, "bus closed", slog.Int("triggers", len(triggers)))
	return errors.Join(errs...)
}

// trackIterator reports false when the bus is already closed, in which case
// the caller must terminate the iterator itself.
func (b *Bus) trackIterator(it *Iterator) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.iters[it] = struct{}{}
	return true
}

func (b *Bus) untrackIterator(it *Iterator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.iters, it)
}
