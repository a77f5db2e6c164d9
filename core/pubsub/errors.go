package pubsub

import "errors"

var (
	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("pubsub bus is closed")

	// ErrNilHandler is returned when Subscribe is called without a callback.
	ErrNilHandler = errors.New("subscription handler must not be nil")

	// ErrNoTriggers is returned when an iterator is requested over an empty trigger list.
	ErrNoTriggers = errors.New("iterator requires at least one trigger")
)
