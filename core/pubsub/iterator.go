package pubsub

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// Iterator bridges push-style dispatch into a pull-based, consumer-driven
// sequence. It subscribes to one or more triggers on construction and funnels
// every delivered payload into a single internal queue; a publish on any of
// the registered triggers yields exactly one value, interleaved in arrival
// order.
//
// The sequence is non-restartable and single-consumer: at most one Next call
// should be outstanding at a time. Queuing is unbounded, so a slow consumer
// never exerts backpressure on dispatch.
//
// Example:
//
//	it, err := bus.Iterator(ctx, "jobs", "alerts")
//	if err != nil {
//	    return err
//	}
//	defer it.Close(ctx)
//
//	for payload := range it.All(ctx) {
//	    process(payload)
//	}
type Iterator struct {
	bus *Bus

	mu     sync.Mutex
	queue  []any
	waiter chan any
	ids    []SubscriptionID
	closed bool
	done   chan struct{}
}

// Iterator creates a pull-based sequence over the given triggers. Every
// trigger is subscribed immediately; if any subscription fails, the ones
// already established are rolled back and the error is returned.
func (b *Bus) Iterator(ctx context.Context, triggers ...string) (*Iterator, error) {
	if len(triggers) == 0 {
		return nil, ErrNoTriggers
	}

	it := &Iterator{
		bus:  b,
		done: make(chan struct{}),
	}

	for _, trigger := range triggers {
		id, err := b.Subscribe(ctx, trigger, it.deliver)
		if err != nil {
			for _, prev := range it.ids {
				_ = b.Unsubscribe(ctx, prev)
			}
			return nil, err
		}
		it.ids = append(it.ids, id)
	}

	if !b.trackIterator(it) {
		it.terminate()
		return nil, ErrBusClosed
	}
	return it, nil
}

// deliver is the subscriber callback shared by all of the iterator's
// subscriptions. A waiting consumer is resolved directly; otherwise the value
// is queued for a later Next.
func (it *Iterator) deliver(payload any) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return
	}
	if it.waiter != nil {
		it.waiter <- payload
		it.waiter = nil
		return
	}
	it.queue = append(it.queue, payload)
}

// Next returns the next payload of the sequence. A queued value resolves
// immediately; otherwise Next parks until a publish on one of the registered
// triggers delivers a value, the iterator is closed (nil, false, nil), or the
// context is cancelled (nil, false, ctx.Err()).
func (it *Iterator) Next(ctx context.Context) (any, bool, error) {
	it.mu.Lock()
	if len(it.queue) > 0 {
		v := it.queue[0]
		it.queue = it.queue[1:]
		it.mu.Unlock()
		return v, true, nil
	}
	if it.closed {
		it.mu.Unlock()
		return nil, false, nil
	}
	w := make(chan any, 1)
	it.waiter = w
	it.mu.Unlock()

	select {
	case v := <-w:
		return v, true, nil
	case <-it.done:
		// A delivery may have raced the termination; prefer the value.
		select {
		case v := <-w:
			return v, true, nil
		default:
		}
		return nil, false, nil
	case <-ctx.Done():
		it.mu.Lock()
		if it.waiter == w {
			it.waiter = nil
		}
		// A delivery may have raced the cancellation; requeue it at the
		// front so the next pull observes arrival order.
		select {
		case v := <-w:
			if !it.closed {
				it.queue = append([]any{v}, it.queue...)
			}
		default:
		}
		it.mu.Unlock()
		return nil, false, ctx.Err()
	}
}

// All exposes the iterator as a range-over-func sequence, draining it until
// termination or context cancellation.
func (it *Iterator) All(ctx context.Context) iter.Seq[any] {
	return func(yield func(any) bool) {
		for {
			v, ok, err := it.Next(ctx)
			if err != nil || !ok {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Close terminates the sequence: every underlying subscription is removed (a
// later publish on the original triggers can no longer reach this iterator),
// queued values are discarded and a parked Next resolves as exhausted.
// Close is idempotent.
func (it *Iterator) Close(ctx context.Context) error {
	ids, terminated := it.shutdown()
	if !terminated {
		return nil
	}

	it.bus.untrackIterator(it)

	var errs []error
	for _, id := range ids {
		if err := it.bus.Unsubscribe(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// terminate marks the sequence exhausted without touching the registry. It is
// used by Bus.Close, which has already removed the subscriptions.
func (it *Iterator) terminate() {
	it.shutdown()
}

func (it *Iterator) shutdown() (ids []SubscriptionID, terminated bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil, false
	}
	it.closed = true
	it.queue = nil
	it.waiter = nil
	ids = it.ids
	it.ids = nil
	close(it.done)
	return ids, true
}
