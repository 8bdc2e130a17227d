// Package postgres provides a PostgreSQL-based Store implementation.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"floodgate/internal/ingest"
	"floodgate/internal/store"
)

// Store is a PostgreSQL-based Store implementation.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// NewStore connects to PostgreSQL with the given DSN and runs migrations.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			topic TEXT NOT NULL,
			payload TEXT NOT NULL,
			tenant_id BIGINT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_tenant ON messages(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY,
			tenant TEXT NOT NULL,
			token_hash TEXT NOT NULL,
			lookup_key TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertBatch writes a batch in a single transaction, all-or-nothing.
// An empty batch is a no-op.
func (s *Store) InsertBatch(ctx context.Context, batch []ingest.Record) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (topic, payload, tenant_id, ts) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		if _, err := stmt.ExecContext(ctx,
			rec.Topic, rec.Payload, rec.TenantID, rec.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	return nil
}

// PruneBefore deletes telemetry older than cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored telemetry records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// InsertDevice stores a provisioned device. The UNIQUE constraint on
// lookup_key enforces token uniqueness at persistence time.
func (s *Store) InsertDevice(ctx context.Context, d store.Device) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, tenant, token_hash, lookup_key, created_at) VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Tenant, d.TokenHash, d.LookupKey, d.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return store.ErrDuplicateLookupKey
		}
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// FindByLookupKey locates a device by its indexed lookup key.
func (s *Store) FindByLookupKey(ctx context.Context, key string) (*store.Device, error) {
	var d store.Device
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant, token_hash, lookup_key, created_at FROM devices WHERE lookup_key = $1`,
		key).Scan(&d.ID, &d.Tenant, &d.TokenHash, &d.LookupKey, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}
	return &d, nil
}
