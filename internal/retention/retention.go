// Package retention prunes old telemetry on a schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"floodgate/internal/logging"
)

// defaultSchedule runs the sweep every minute. Pruning is cheap relative
// to the ingest path, and a fine-grained sweep keeps the deletion batches
// small.
const defaultSchedule = "* * * * *"

// Pruner deletes telemetry older than a cutoff, reporting how many
// records were removed.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes telemetry older than the configured TTL.
type Sweeper struct {
	pruner    Pruner
	ttl       time.Duration
	scheduler gocron.Scheduler
	logger    *slog.Logger

	// now is the clock, overridable in tests.
	now func() time.Time
}

// Config holds sweeper construction parameters.
type Config struct {
	// Pruner is the store to prune. Required.
	Pruner Pruner

	// TTL is the retention period. Records older than now-TTL are removed.
	// Required, positive.
	TTL time.Duration

	// Schedule is a cron expression for the sweep cadence. Defaults to
	// every minute.
	Schedule string

	// Logger for structured logging.
	Logger *slog.Logger
}

// New creates a sweeper. Call Start to begin sweeping.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Pruner == nil {
		return nil, fmt.Errorf("retention sweeper requires a pruner")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("retention TTL must be positive, got %s", cfg.TTL)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create retention scheduler: %w", err)
	}

	s := &Sweeper{
		pruner:    cfg.Pruner,
		ttl:       cfg.TTL,
		scheduler: scheduler,
		logger:    logging.Default(cfg.Logger).With("component", "retention"),
		now:       time.Now,
	}

	if _, err := scheduler.NewJob(
		gocron.CronJob(cfg.Schedule, false),
		gocron.NewTask(s.sweep),
		gocron.WithName("retention-sweep"),
	); err != nil {
		return nil, fmt.Errorf("create retention job: %w", err)
	}

	return s, nil
}

// Start begins the scheduled sweep.
func (s *Sweeper) Start() {
	s.scheduler.Start()
	s.logger.Info("retention sweep started", "ttl", s.ttl)
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (s *Sweeper) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stop retention scheduler: %w", err)
	}
	s.logger.Info("retention sweep stopped")
	return nil
}

// sweep deletes everything older than the TTL. Failures are logged and the
// next scheduled run retries; a missed sweep only delays deletion.
func (s *Sweeper) sweep() {
	cutoff := s.now().Add(-s.ttl)

	pruned, err := s.pruner.PruneBefore(context.Background(), cutoff)
	if err != nil {
		s.logger.Warn("retention sweep failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("pruned telemetry", "records", pruned, "cutoff", cutoff)
	}
}
