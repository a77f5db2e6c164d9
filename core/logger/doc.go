// Package logger provides slog attribute helpers shared across the module.
//
// All helpers follow the empty Attr pattern: nil or zero inputs produce an
// empty attribute that slog silently drops, so call sites never need nil
// checks:
//
//	log.Error("notify failed",
//	    logger.Component("pg_listener"),
//	    logger.Trigger(channel),
//	    logger.Error(err),
//	)
package logger
