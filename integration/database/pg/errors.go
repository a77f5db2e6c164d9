package pg

import "errors"

var (
	// ErrEmptyConnectionString is returned by Connect when no connection
	// string is configured.
	ErrEmptyConnectionString = errors.New("empty postgres connection string")

	// ErrDatabaseNotReady is returned when the database did not become
	// reachable within the configured retry budget.
	ErrDatabaseNotReady = errors.New("postgres did not become ready within the given time period")

	// ErrListenerRunning is returned by Run when the listener is already running.
	ErrListenerRunning = errors.New("listener is already running")

	// ErrPayloadNotFound is returned when a notification references a stored
	// payload that has been swept or never existed.
	ErrPayloadNotFound = errors.New("stored payload not found or expired")

	// ErrHealthcheckFailed wraps ping failures reported by Healthcheck.
	ErrHealthcheckFailed = errors.New("postgres healthcheck failed")
)
