package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"floodgate/internal/logging"
)

// Engine accumulates records and flushes them through a MessageRepository.
//
// Concurrency model: a buffer mutex guards appends and the swap; a flush
// mutex serializes swap+write pairs. Because the swap happens before the
// repository write and swaps are serialized, no two flushes ever observe
// the same batch, and batches reach the repository in the exact order the
// records were appended, with no reordering across flushes. Records that
// arrive during a repository write land in the new buffer.
type Engine struct {
	repo     MessageRepository
	max      int
	interval time.Duration
	logger   *slog.Logger

	// now is the record timestamp clock, overridable in tests.
	now func() time.Time

	// flushMu serializes buffer swaps and the writes that follow them.
	flushMu sync.Mutex

	mu      sync.Mutex
	buf     []Record
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Config holds the engine's construction parameters.
type Config struct {
	// Repository receives flushed batches. Required.
	Repository MessageRepository

	// MaxBufferSize triggers a synchronous flush when the buffer reaches
	// it. Defaults to 100.
	MaxBufferSize int

	// FlushInterval is the periodic flush cadence. Defaults to 2 seconds.
	FlushInterval time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// New creates an engine. Call Start to begin periodic flushing; AddMessage
// works before Start (size-triggered flushes only).
func New(cfg Config) (*Engine, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("ingest engine requires a repository")
	}
	if cfg.MaxBufferSize == 0 {
		cfg.MaxBufferSize = 100
	}
	if cfg.MaxBufferSize < 0 {
		return nil, fmt.Errorf("max buffer size must be positive, got %d", cfg.MaxBufferSize)
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.FlushInterval < 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %s", cfg.FlushInterval)
	}

	return &Engine{
		repo:     cfg.Repository,
		max:      cfg.MaxBufferSize,
		interval: cfg.FlushInterval,
		logger:   logging.Default(cfg.Logger).With("component", "ingest"),
		now:      time.Now,
		buf:      make([]Record, 0, cfg.MaxBufferSize),
	}, nil
}

// Start launches the periodic flush timer. Idempotent while running;
// returns ErrStopped once the engine has been stopped.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.run(ctx)

	e.logger.Info("ingestion engine started",
		"maxBufferSize", e.max,
		"flushInterval", e.interval)
	return nil
}

// AddMessage validates and appends one record. If the append fills the
// buffer to capacity, the resulting flush is awaited here and its outcome
// (including a repository failure) is returned to this caller. Callers
// that merely append return immediately.
func (e *Engine) AddMessage(ctx context.Context, topic, payload string, tenantID int64) error {
	if tenantID <= 0 {
		return ErrTenantRequired
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.buf = append(e.buf, Record{
		Topic:     topic,
		Payload:   payload,
		TenantID:  tenantID,
		Timestamp: e.now(),
	})
	full := len(e.buf) >= e.max
	e.mu.Unlock()

	if full {
		return e.flush(ctx)
	}
	return nil
}

// Stop cancels the periodic timer, waits for any timer-driven flush to
// finish, performs one final flush of whatever remains, and leaves the
// engine in its terminal state. Safe to call again: double-stop is a
// no-op returning nil.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.running = false
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	err := e.flush(ctx)
	e.logger.Info("ingestion engine stopped")
	return err
}

// BufferSize returns the current buffer length. No side effects; intended
// for observability and tests.
func (e *Engine) BufferSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

// run drives the periodic flush until the engine is stopped. Flushes use
// a context detached from cancellation: Stop must not abort a write
// already in flight.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.flush(context.WithoutCancel(ctx)); err != nil {
				e.logger.Error("periodic flush failed", "error", err)
			}
		}
	}
}

// flush atomically swaps the buffer for an empty one and writes the
// swapped-out batch through the repository. An empty buffer is a no-op.
// The batch is not re-enqueued on failure; the repository error is
// returned unmodified to the triggering caller.
func (e *Engine) flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	if len(e.buf) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := e.buf
	e.buf = make([]Record, 0, e.max)
	e.mu.Unlock()

	return e.repo.InsertBatch(ctx, batch)
}
