package redis

import "errors"

var (
	// ErrEmptyConnectionURL is returned by Connect when no URL is configured.
	ErrEmptyConnectionURL = errors.New("empty redis connection URL")

	// ErrFailedToParseConnString wraps URL parse failures from Connect.
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")

	// ErrRedisNotReady is returned when Redis did not become reachable within
	// the configured retry budget.
	ErrRedisNotReady = errors.New("redis did not become ready within the given time period")

	// ErrBrokerRunning is returned by Run when the broker is already running.
	ErrBrokerRunning = errors.New("broker is already running")

	// ErrBrokerClosed is returned when the underlying subscription channel is
	// gone and no further notifications can be received.
	ErrBrokerClosed = errors.New("broker subscription closed")

	// ErrHealthcheckFailed wraps ping failures reported by Healthcheck.
	ErrHealthcheckFailed = errors.New("redis healthcheck failed")
)
