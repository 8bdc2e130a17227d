// Package store defines the durable storage interfaces for telemetry and
// provisioned devices, with memory, sqlite, and postgres implementations
// in subpackages.
//
// Implementations are consumed only through these interfaces; callers never
// see the dialect. InsertBatch is all-or-nothing per call.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"floodgate/internal/ingest"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateLookupKey is returned when a device's lookup key is
	// already present. This is where device token uniqueness is enforced;
	// the generator itself never checks.
	ErrDuplicateLookupKey = errors.New("duplicate lookup key")
)

// Device is a provisioned device. The plaintext token is never stored:
// TokenHash is the argon2 salt.derived form and LookupKey the secret-keyed
// digest used as the indexed column.
type Device struct {
	ID        uuid.UUID
	Tenant    string
	TokenHash string
	LookupKey string
	CreatedAt time.Time
}

// MessageStore persists telemetry batches and supports retention pruning.
type MessageStore interface {
	ingest.MessageRepository

	// PruneBefore deletes telemetry older than cutoff and reports how many
	// records were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Count returns the number of stored telemetry records.
	Count(ctx context.Context) (int64, error)
}

// DeviceStore persists provisioned devices.
type DeviceStore interface {
	// InsertDevice stores a device row. Returns ErrDuplicateLookupKey if
	// the lookup key is already taken.
	InsertDevice(ctx context.Context, d Device) error

	// FindByLookupKey locates a device by its lookup key in a single
	// indexed read. Returns ErrNotFound when absent.
	FindByLookupKey(ctx context.Context, key string) (*Device, error)
}

// Store is the combined storage surface a deployment opens once.
type Store interface {
	MessageStore
	DeviceStore
}
