package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"floodgate/internal/ingest"
)

// trackingRepo records every batch it receives and can be told to fail.
type trackingRepo struct {
	mu      sync.Mutex
	batches [][]ingest.Record
	failErr error
}

func (r *trackingRepo) InsertBatch(ctx context.Context, batch []ingest.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	copied := make([]ingest.Record, len(batch))
	copy(copied, batch)
	r.batches = append(r.batches, copied)
	return nil
}

func (r *trackingRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *trackingRepo) all() []ingest.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ingest.Record
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func newEngine(t *testing.T, repo ingest.MessageRepository, max int) *ingest.Engine {
	t.Helper()
	e, err := ingest.New(ingest.Config{Repository: repo, MaxBufferSize: max})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func addN(t *testing.T, e *ingest.Engine, n, offset int) {
	t.Helper()
	for i := 0; i < n; i++ {
		topic := fmt.Sprintf("msg-%d", offset+i)
		if err := e.AddMessage(context.Background(), topic, "{}", 1); err != nil {
			t.Fatalf("AddMessage %s: %v", topic, err)
		}
	}
}

func TestBufferBelowThreshold(t *testing.T) {
	repo := &trackingRepo{}
	e := newEngine(t, repo, 100)

	addN(t, e, 99, 0)

	if size := e.BufferSize(); size != 99 {
		t.Errorf("expected buffer size 99, got %d", size)
	}
	if repo.calls() != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls())
	}
}

func TestSizeTriggeredFlush(t *testing.T) {
	repo := &trackingRepo{}
	e := newEngine(t, repo, 100)

	addN(t, e, 100, 0)

	if repo.calls() != 1 {
		t.Fatalf("expected exactly one InsertBatch call, got %d", repo.calls())
	}
	batch := repo.batches[0]
	if len(batch) != 100 {
		t.Fatalf("expected 100 records in batch, got %d", len(batch))
	}
	for i, rec := range batch {
		if want := fmt.Sprintf("msg-%d", i); rec.Topic != want {
			t.Fatalf("record %d out of order: got topic %q, want %q", i, rec.Topic, want)
		}
	}
	if size := e.BufferSize(); size != 0 {
		t.Errorf("expected empty buffer after flush, got %d", size)
	}
}

func TestAddMessageRejectsMissingTenant(t *testing.T) {
	repo := &trackingRepo{}
	e := newEngine(t, repo, 100)

	addN(t, e, 5, 0)

	for _, tenantID := range []int64{0, -1} {
		err := e.AddMessage(context.Background(), "t", "{}", tenantID)
		if !errors.Is(err, ingest.ErrTenantRequired) {
			t.Errorf("tenantID %d: expected ErrTenantRequired, got %v", tenantID, err)
		}
	}

	if size := e.BufferSize(); size != 5 {
		t.Errorf("rejected records mutated the buffer: size %d", size)
	}
}

func TestFlushErrorPropagatesToFillingCaller(t *testing.T) {
	repoErr := errors.New("disk full")
	repo := &trackingRepo{failErr: repoErr}
	e := newEngine(t, repo, 10)

	addN(t, e, 9, 0)

	err := e.AddMessage(context.Background(), "msg-9", "{}", 1)
	if !errors.Is(err, repoErr) {
		t.Fatalf("expected repository error from filling caller, got %v", err)
	}

	// At-most-once: the failed batch is gone, not re-enqueued.
	if size := e.BufferSize(); size != 0 {
		t.Errorf("expected failed batch to be dropped, buffer size %d", size)
	}

	repo.mu.Lock()
	repo.failErr = nil
	repo.mu.Unlock()

	addN(t, e, 10, 10)
	if got := len(repo.all()); got != 10 {
		t.Errorf("expected only the second batch to persist, got %d records", got)
	}
}

func TestStopFlushesRemainder(t *testing.T) {
	repo := &trackingRepo{}
	e := newEngine(t, repo, 100)

	addN(t, e, 7, 0)

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if repo.calls() != 1 {
		t.Fatalf("expected exactly one final flush, got %d calls", repo.calls())
	}
	if len(repo.batches[0]) != 7 {
		t.Errorf("expected 7 records in final flush, got %d", len(repo.batches[0]))
	}

	err := e.AddMessage(context.Background(), "late", "{}", 1)
	if !errors.Is(err, ingest.ErrStopped) {
		t.Errorf("expected ErrStopped after stop, got %v", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	repo := &trackingRepo{}
	e := newEngine(t, repo, 100)

	addN(t, e, 3, 0)

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if repo.calls() != 1 {
		t.Errorf("double stop flushed twice: %d calls", repo.calls())
	}
}

func TestStopEmptyBufferSkipsFlush(t *testing.T) {
	repo := &trackingRepo{}
	e := newEngine(t, repo, 100)

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if repo.calls() != 0 {
		t.Errorf("expected no flush for empty buffer, got %d calls", repo.calls())
	}
}

func TestStartAfterStop(t *testing.T) {
	repo := &trackingRepo{}
	e := newEngine(t, repo, 100)

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := e.Start(); !errors.Is(err, ingest.ErrStopped) {
		t.Errorf("expected ErrStopped from Start after Stop, got %v", err)
	}
}

func TestPeriodicFlush(t *testing.T) {
	repo := &trackingRepo{}
	e, err := ingest.New(ingest.Config{
		Repository:    repo,
		MaxBufferSize: 100,
		FlushInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start should be idempotent while running: %v", err)
	}
	defer e.Stop(context.Background())

	addN(t, e, 3, 0)

	deadline := time.After(2 * time.Second)
	for repo.calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("periodic flush never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := len(repo.all()); got != 3 {
		t.Errorf("expected 3 records flushed by timer, got %d", got)
	}
}

// blockingRepo parks inside InsertBatch until released, so tests can
// observe the engine while a write is in flight.
type blockingRepo struct {
	trackingRepo
	entered chan struct{}
	release chan struct{}
}

func newBlockingRepo() *blockingRepo {
	return &blockingRepo{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *blockingRepo) InsertBatch(ctx context.Context, batch []ingest.Record) error {
	r.entered <- struct{}{}
	<-r.release
	return r.trackingRepo.InsertBatch(ctx, batch)
}

func TestRecordsDuringFlushLandInNewBuffer(t *testing.T) {
	repo := newBlockingRepo()
	e := newEngine(t, repo, 10)

	fillDone := make(chan error, 1)
	go func() {
		for i := 0; i < 10; i++ {
			if err := e.AddMessage(context.Background(), fmt.Sprintf("msg-%d", i), "{}", 1); err != nil {
				fillDone <- err
				return
			}
		}
		fillDone <- nil
	}()

	// The filling caller is now parked inside the repository write.
	<-repo.entered

	// A record arriving mid-write lands in the fresh buffer, not the
	// batch being written.
	if err := e.AddMessage(context.Background(), "mid-flight", "{}", 1); err != nil {
		t.Fatalf("AddMessage during flush: %v", err)
	}
	if size := e.BufferSize(); size != 1 {
		t.Errorf("expected buffer size 1 during in-flight write, got %d", size)
	}

	repo.release <- struct{}{}
	if err := <-fillDone; err != nil {
		t.Fatalf("filling caller: %v", err)
	}

	if calls := repo.calls(); calls != 1 {
		t.Fatalf("expected one batch written so far, got %d", calls)
	}
	first := repo.batches[0]
	if len(first) != 10 {
		t.Fatalf("expected 10 records in the swapped-out batch, got %d", len(first))
	}
	for _, rec := range first {
		if rec.Topic == "mid-flight" {
			t.Fatal("mid-flight record mutated the batch being written")
		}
	}

	// The mid-flight record is delivered exactly once, by the next flush.
	go func() { <-repo.entered; repo.release <- struct{}{} }()
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if calls := repo.calls(); calls != 2 {
		t.Fatalf("expected a second flush for the new buffer, got %d calls", calls)
	}
	second := repo.batches[1]
	if len(second) != 1 || second[0].Topic != "mid-flight" {
		t.Fatalf("expected the second flush to carry only the mid-flight record, got %v", second)
	}
}

func TestOrderPreservedAcrossFlushes(t *testing.T) {
	repo := &trackingRepo{}
	e := newEngine(t, repo, 100)

	addN(t, e, 250, 0)
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	all := repo.all()
	if len(all) != 250 {
		t.Fatalf("expected 250 records total, got %d", len(all))
	}
	for i, rec := range all {
		if want := fmt.Sprintf("msg-%d", i); rec.Topic != want {
			t.Fatalf("record %d out of order: got %q, want %q", i, rec.Topic, want)
		}
	}
}
