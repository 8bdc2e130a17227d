// Package sqlite provides a SQLite-based Store implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"floodgate/internal/ingest"
	"floodgate/internal/store"
)

const timeFormat = time.RFC3339Nano

// Store is a SQLite-based Store implementation.
type Store struct {
	db   *sql.DB
	path string
}

var _ store.Store = (*Store)(nil)

// NewStore opens a SQLite database at path and runs migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Set pragmas.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			payload TEXT NOT NULL,
			tenant_id INTEGER NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_tenant ON messages(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			token_hash TEXT NOT NULL,
			lookup_key TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
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
		`INSERT INTO messages (topic, payload, tenant_id, ts) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		if _, err := stmt.ExecContext(ctx,
			rec.Topic, rec.Payload, rec.TenantID, rec.Timestamp.UTC().Format(timeFormat)); err != nil {
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
		`DELETE FROM messages WHERE ts < ?`, cutoff.UTC().Format(timeFormat))
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
		`INSERT INTO devices (id, tenant, token_hash, lookup_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID.String(), d.Tenant, d.TokenHash, d.LookupKey, d.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrDuplicateLookupKey
		}
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// FindByLookupKey locates a device by its indexed lookup key.
func (s *Store) FindByLookupKey(ctx context.Context, key string) (*store.Device, error) {
	var (
		d         store.Device
		id        string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant, token_hash, lookup_key, created_at FROM devices WHERE lookup_key = ?`,
		key).Scan(&id, &d.Tenant, &d.TokenHash, &d.LookupKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}

	d.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse device id: %w", err)
	}
	d.CreatedAt, err = time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse device created_at: %w", err)
	}
	return &d, nil
}
