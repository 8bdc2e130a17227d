// Package ingest buffers high-rate telemetry in memory and writes it to
// durable storage in batches.
//
// The engine decouples bursty message arrival from comparatively slow
// repository writes. Two triggers feed one flush path: a size threshold
// (the caller that fills the buffer awaits the flush and observes its
// outcome) and a periodic timer (partial buffers are flushed on cadence).
// A failed flush is at-most-once: the swapped-out batch is not re-enqueued,
// and the error propagates to whichever caller triggered the flush.
package ingest

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTenantRequired is returned when a record arrives without a
	// positive tenant ID. The buffer is never mutated in that case.
	ErrTenantRequired = errors.New("tenantId is required")

	// ErrStopped is returned for operations on a stopped engine.
	// Stopped is terminal; a stopped engine cannot be restarted.
	ErrStopped = errors.New("ingestion engine is stopped")
)

// Record is a single telemetry message. Records are immutable once
// appended: the buffer owns them until a flush hands them to the
// repository.
type Record struct {
	Topic     string
	Payload   string
	TenantID  int64
	Timestamp time.Time
}

// MessageRepository is the durable storage collaborator. InsertBatch is
// expected to perform one all-or-nothing write per call and to tolerate an
// empty batch as a no-op. Timeout policy belongs to the implementation;
// the engine imposes none.
type MessageRepository interface {
	InsertBatch(ctx context.Context, batch []Record) error
}
