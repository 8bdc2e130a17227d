// Package memory provides an in-memory Store implementation.
package memory

import (
	"context"
	"sync"
	"time"

	"floodgate/internal/ingest"
	"floodgate/internal/store"
)

// Store is an in-memory store. Intended for tests and local bootstrap;
// nothing is persisted across restarts.
type Store struct {
	mu       sync.RWMutex
	messages []ingest.Record
	devices  map[string]store.Device // lookup key → device
}

var _ store.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		devices: make(map[string]store.Device),
	}
}

// InsertBatch appends a batch. An empty batch is a no-op.
func (s *Store) InsertBatch(ctx context.Context, batch []ingest.Record) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, batch...)
	return nil
}

// PruneBefore removes telemetry older than cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	var pruned int64
	for _, rec := range s.messages {
		if rec.Timestamp.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	s.messages = kept
	return pruned, nil
}

// Count returns the number of stored telemetry records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages)), nil
}

// Messages returns a snapshot of all stored records, in insertion order.
func (s *Store) Messages() []ingest.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Record, len(s.messages))
	copy(out, s.messages)
	return out
}

// InsertDevice stores a device row, enforcing lookup key uniqueness.
func (s *Store) InsertDevice(ctx context.Context, d store.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[d.LookupKey]; exists {
		return store.ErrDuplicateLookupKey
	}
	s.devices[d.LookupKey] = d
	return nil
}

// FindByLookupKey locates a device by lookup key.
func (s *Store) FindByLookupKey(ctx context.Context, key string) (*store.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := d
	return &out, nil
}
