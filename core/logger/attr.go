package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers use the empty Attr pattern for nil safety.
// This allows calls like log.Error("msg", logger.Error(err)) without explicit
// nil checks, following the principle of making zero values useful.

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors, enabling safe usage without nil checks.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component identifies the emitting component (e.g. "pg_listener").
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Trigger creates an attribute for the trigger (channel) name of a pub/sub
// operation.
func Trigger(name string) slog.Attr {
	return slog.String("trigger", name)
}

// SubscriptionID creates an attribute for a subscription identifier.
func SubscriptionID(id int64) slog.Attr {
	return slog.Int64("subscription_id", id)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed calculates and logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// RetryCount creates an attribute for retry attempts.
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}
