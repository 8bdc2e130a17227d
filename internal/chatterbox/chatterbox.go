// Package chatterbox generates synthetic device telemetry at random
// intervals. It exercises the full ingest path without any device
// transport and exists for demos and load checks.
package chatterbox

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"floodgate/internal/logging"
)

// Sink receives generated telemetry. *ingest.Engine satisfies this, as
// does any rate-limiting wrapper around it.
type Sink interface {
	AddMessage(ctx context.Context, topic, payload string, tenantID int64) error
}

// Tenant pairs a tenant's numeric ID with its name, for attribution in
// generated topics.
type Tenant struct {
	ID   int64
	Name string
}

var topics = []string{
	"sensors/temperature",
	"sensors/humidity",
	"sensors/pressure",
	"meters/power",
	"trackers/position",
}

// Generator emits random telemetry records at random intervals.
//
// Logging is intentionally sparse: lifecycle events only, nothing in the
// generation loop.
type Generator struct {
	sink        Sink
	tenants     []Tenant
	minInterval time.Duration
	maxInterval time.Duration
	rng         *rand.Rand
	logger      *slog.Logger
}

// Config holds generator construction parameters.
type Config struct {
	// Sink receives the generated records. Required.
	Sink Sink

	// Tenants to attribute telemetry to. Required, non-empty.
	Tenants []Tenant

	// MinInterval and MaxInterval bound the random delay between records.
	// Default 10ms..250ms.
	MinInterval time.Duration
	MaxInterval time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// New creates a generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("chatterbox requires a sink")
	}
	if len(cfg.Tenants) == 0 {
		return nil, fmt.Errorf("chatterbox requires at least one tenant")
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 10 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 250 * time.Millisecond
	}

	return &Generator{
		sink:        cfg.Sink,
		tenants:     cfg.Tenants,
		minInterval: cfg.MinInterval,
		maxInterval: cfg.MaxInterval,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:      logging.Default(cfg.Logger).With("component", "chatterbox"),
	}, nil
}

// Run emits telemetry until ctx is cancelled. Returns nil on normal
// cancellation. Sink errors other than cancellation stop the generator.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info("chatterbox started", "tenants", len(g.tenants))
	defer g.logger.Info("chatterbox stopped")

	timer := time.NewTimer(g.randomInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		tenant := g.tenants[g.rng.IntN(len(g.tenants))]
		topic := fmt.Sprintf("%s/%s", tenant.Name, topics[g.rng.IntN(len(topics))])
		payload := fmt.Sprintf(`{"value":%.2f,"seq":%d}`, g.rng.Float64()*100, g.rng.Uint32())

		if err := g.sink.AddMessage(ctx, topic, payload, tenant.ID); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("chatterbox submit: %w", err)
		}

		timer.Reset(g.randomInterval())
	}
}

// randomInterval returns a random duration between minInterval and
// maxInterval.
func (g *Generator) randomInterval() time.Duration {
	if g.minInterval >= g.maxInterval {
		return g.minInterval
	}
	delta := g.maxInterval - g.minInterval
	return g.minInterval + time.Duration(g.rng.Int64N(int64(delta)))
}
