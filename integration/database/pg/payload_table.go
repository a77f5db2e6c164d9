package pg

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrymomot/pgpubsub/core/logger"
)

const (
	// DefaultPayloadTable is the table oversized payloads are stored in. The
	// bundled migration creates exactly this table; a custom name requires
	// the caller to provision the schema.
	DefaultPayloadTable = "pgpubsub_payloads"

	// DefaultPayloadTTL is how long stored payloads survive before the
	// janitor sweeps them. It only needs to cover notification delivery lag,
	// but a generous value is harmless.
	DefaultPayloadTTL = time.Hour

	payloadSweepInterval = time.Minute
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// payloadStore persists payloads too large for NOTIFY and resolves them on
// the receiving side. Rows are shared reads: several listening processes may
// fetch the same key, so rows are expired by TTL rather than deleted on read.
type payloadStore struct {
	pool   *pgxpool.Pool
	table  string
	ttl    time.Duration
	logger *slog.Logger
}

func (s *payloadStore) put(ctx context.Context, trigger string, payload []byte) (string, error) {
	key := uuid.New()
	query := fmt.Sprintf(
		"INSERT INTO %s (id, trigger, payload) VALUES ($1, $2, $3)",
		pgx.Identifier{s.table}.Sanitize(),
	)
	if _, err := s.pool.Exec(ctx, query, key, trigger, string(payload)); err != nil {
		return "", err
	}
	return key.String(), nil
}

func (s *payloadStore) get(ctx context.Context, key string) ([]byte, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("invalid payload key %q: %w", key, err)
	}

	var payload string
	query := fmt.Sprintf(
		"SELECT payload FROM %s WHERE id = $1",
		pgx.Identifier{s.table}.Sanitize(),
	)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayloadNotFound
		}
		return nil, err
	}
	return []byte(payload), nil
}

// run sweeps expired rows periodically until the context is cancelled.
func (s *payloadStore) run(ctx context.Context) error {
	ticker := time.NewTicker(payloadSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("payload sweep failed",
					logger.Component("pg_payload_store"), logger.Error(err))
			}
		}
	}
}

func (s *payloadStore) sweep(ctx context.Context) error {
	started := time.Now()
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE created_at < now() - $1::interval",
		pgx.Identifier{s.table}.Sanitize(),
	)
	tag, err := s.pool.Exec(ctx, query, s.ttl)
	if err != nil {
		return err
	}
	if rows := tag.RowsAffected(); rows > 0 {
		s.logger.Debug("swept expired payloads",
			logger.Component("pg_payload_store"),
			slog.Int64("rows", rows),
			logger.Duration(time.Since(started)))
	}
	return nil
}

// Migrate applies the bundled schema (the payload table) using goose. It is
// safe to call on every startup; already-applied migrations are skipped.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
