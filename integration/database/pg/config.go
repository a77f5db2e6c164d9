package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the Postgres binding configuration with environment variable
// mapping, loadable via core/config.
type Config struct {
	ConnectionString  string        `env:"PGPUBSUB_CONN_URL,required"`
	MaxOpenConns      int32         `env:"PGPUBSUB_MAX_OPEN_CONNS" envDefault:"4"`
	RetryAttempts     int           `env:"PGPUBSUB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval     time.Duration `env:"PGPUBSUB_RETRY_INTERVAL" envDefault:"5s"`
	ReconnectInterval time.Duration `env:"PGPUBSUB_RECONNECT_INTERVAL" envDefault:"3s"`
	UsePayloadTable   bool          `env:"PGPUBSUB_USE_PAYLOAD_TABLE" envDefault:"false"`
	PayloadTable      string        `env:"PGPUBSUB_PAYLOAD_TABLE" envDefault:"pgpubsub_payloads"`
	PayloadTTL        time.Duration `env:"PGPUBSUB_PAYLOAD_TTL" envDefault:"1h"`
}

// Connect creates a connection pool with retry logic and connection
// verification. The retry interval doubles after every failed attempt to
// avoid thundering herds when multiple services restart simultaneously.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
			interval *= 2
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			lastErr = err
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			continue
		}
		return pool, nil
	}

	return nil, errors.Join(ErrDatabaseNotReady, lastErr)
}

// NewListenerWithConfig connects a pool and builds a Listener configured from
// cfg. The caller owns the returned pool-backed listener and drives it with
// Run.
func NewListenerWithConfig(ctx context.Context, cfg Config, opts ...ListenerOption) (*Listener, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	base := []ListenerOption{WithReconnectInterval(cfg.ReconnectInterval)}
	if cfg.UsePayloadTable {
		base = append(base, WithPayloadTable(cfg.PayloadTable, cfg.PayloadTTL))
	}
	return NewListener(pool, append(base, opts...)...), nil
}

// Healthcheck returns a health check function suitable for readiness probes.
func Healthcheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
