// Command floodgate runs the multi-tenant telemetry ingestion service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"floodgate/internal/auth"
	"floodgate/internal/chatterbox"
	"floodgate/internal/config"
	"floodgate/internal/ingest"
	"floodgate/internal/ratelimit"
	"floodgate/internal/retention"
	"floodgate/internal/store"
	storemem "floodgate/internal/store/memory"
	storepg "floodgate/internal/store/postgres"
	storesqlite "floodgate/internal/store/sqlite"
)

var version = "dev"

// demoTenants back the chatterbox generators in serve --chatter mode.
var demoTenants = []chatterbox.Tenant{
	{ID: 1, Name: "acme"},
	{ID: 2, Name: "globex"},
	{ID: 3, Name: "initech"},
}

func main() {
	level := slog.LevelInfo
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rootCmd := &cobra.Command{
		Use:   "floodgate",
		Short: "Multi-tenant telemetry ingestion service",
	}

	rootCmd.PersistentFlags().String("store", "sqlite", "store type: sqlite, postgres, or memory")
	rootCmd.PersistentFlags().String("db", "floodgate.db", "sqlite database path")
	rootCmd.PersistentFlags().String("dsn", "", "postgres connection string")
	rootCmd.PersistentFlags().String("mode", "dev", "deployment mode: dev or production")
	rootCmd.PersistentFlags().String("lookup-secret", "", "base64 lookup secret (required in production)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}

			maxBuffer, _ := cmd.Flags().GetInt("max-buffer")
			flushInterval, _ := cmd.Flags().GetDuration("flush-interval")
			retentionTTL, _ := cmd.Flags().GetDuration("retention")
			tenantRate, _ := cmd.Flags().GetFloat64("tenant-rate")
			chatter, _ := cmd.Flags().GetInt("chatter")

			cfg.MaxBufferSize = maxBuffer
			cfg.FlushInterval = flushInterval
			cfg.RetentionTTL = retentionTTL
			cfg.TenantRatePerSec = tenantRate

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return serve(ctx, cmd, logger, cfg, chatter)
		},
	}
	serveCmd.Flags().Int("max-buffer", config.DefaultMaxBufferSize, "records buffered before a size-based flush")
	serveCmd.Flags().Duration("flush-interval", config.DefaultFlushInterval, "periodic flush cadence")
	serveCmd.Flags().Duration("retention", 0, "telemetry retention TTL (0 disables the sweep)")
	serveCmd.Flags().Float64("tenant-rate", 0, "per-tenant messages per second (0 disables rate limiting)")
	serveCmd.Flags().Int("chatter", 0, "number of synthetic telemetry generators to run")

	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a device and print its token once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")
			return provision(cmd.Context(), cmd, cfg, tenant)
		},
	}
	provisionCmd.Flags().String("tenant", "", "tenant name the device belongs to")
	provisionCmd.MarkFlagRequired("tenant")

	tenantTokenCmd := &cobra.Command{
		Use:   "tenant-token",
		Short: "Issue a tenant token for the current window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")

			issuer := auth.NewTenantIssuer(cfg.EffectiveLookupSecret(), cfg.TenantTokenWindow)
			token, err := issuer.Issue(tenant)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	tenantTokenCmd.Flags().String("tenant", "", "tenant name to issue for")
	tenantTokenCmd.MarkFlagRequired("tenant")

	sessionTokenCmd := &cobra.Command{
		Use:   "session-token",
		Short: "Issue an operator session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			operator, _ := cmd.Flags().GetString("operator")
			tenant, _ := cmd.Flags().GetString("tenant")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			secret := cfg.SessionSecret
			if len(secret) == 0 {
				secret = cfg.EffectiveLookupSecret()
			}

			token, expiresAt, err := auth.NewSessionService(secret, ttl).Issue(operator, tenant, role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	sessionTokenCmd.Flags().String("operator", "", "operator login name")
	sessionTokenCmd.Flags().String("tenant", "", "tenant scope (empty for all tenants)")
	sessionTokenCmd.Flags().String("role", "viewer", "operator role")
	sessionTokenCmd.Flags().Duration("ttl", 12*time.Hour, "session lifetime")
	sessionTokenCmd.Flags().String("session-secret", "", "base64 session secret (defaults to the lookup secret)")
	sessionTokenCmd.MarkFlagRequired("operator")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, provisionCmd, tenantTokenCmd, sessionTokenCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serve wires the store, engine, retention sweep, and optional synthetic
// traffic, then blocks until the shutdown signal.
func serve(ctx context.Context, cmd *cobra.Command, logger *slog.Logger, cfg config.Config, chatter int) error {
	st, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	engine, err := ingest.New(ingest.Config{
		Repository:    st,
		MaxBufferSize: cfg.MaxBufferSize,
		FlushInterval: cfg.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return err
	}

	var sweeper *retention.Sweeper
	if cfg.RetentionTTL > 0 {
		sweeper, err = retention.New(retention.Config{
			Pruner: st,
			TTL:    cfg.RetentionTTL,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	var sink chatterbox.Sink = engine
	if cfg.TenantRatePerSec > 0 {
		sink = &limitedSink{
			engine: engine,
			limits: ratelimit.NewRegistry(cfg.TenantRatePerSec, int(cfg.TenantRatePerSec)),
			names:  tenantNames(demoTenants),
		}
	}

	var generators errgroup.Group
	for i := 0; i < chatter; i++ {
		gen, err := chatterbox.New(chatterbox.Config{
			Sink:    sink,
			Tenants: demoTenants,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		generators.Go(func() error { return gen.Run(ctx) })
	}

	logger.Info("floodgate started",
		"maxBufferSize", cfg.MaxBufferSize,
		"flushInterval", cfg.FlushInterval,
		"generators", chatter)

	// Wait for shutdown signal.
	<-ctx.Done()

	if err := generators.Wait(); err != nil {
		logger.Error("generator error", "error", err)
	}

	if sweeper != nil {
		if err := sweeper.Stop(); err != nil {
			logger.Error("retention stop error", "error", err)
		}
	}

	logger.Info("shutting down engine")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// provision generates a fresh device credential, persists its hash and
// lookup key, and prints the plaintext exactly once.
func provision(ctx context.Context, cmd *cobra.Command, cfg config.Config, tenant string) error {
	if !auth.ValidTenantName(tenant) {
		return fmt.Errorf("%w: %q", auth.ErrInvalidTenantName, tenant)
	}

	st, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	token, err := auth.NewDeviceToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashDeviceToken(token)
	if err != nil {
		return err
	}
	key := auth.NewLookupIndex(cfg.EffectiveLookupSecret()).Key(token)

	device := store.Device{
		ID:        uuid.New(),
		Tenant:    tenant,
		TokenHash: hash,
		LookupKey: key,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.InsertDevice(ctx, device); err != nil {
		return fmt.Errorf("store device: %w", err)
	}

	fmt.Printf("device %s provisioned for tenant %s\n", device.ID, tenant)
	fmt.Printf("token (shown once, store it now): %s\n", token)
	return nil
}

// configFromFlags builds a Config from the persistent flags. Defaults come
// from config.Default; serve overrides the tunables from its own flags.
func configFromFlags(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	mode, _ := cmd.Flags().GetString("mode")
	cfg.Mode = config.Mode(mode)

	secretB64, _ := cmd.Flags().GetString("lookup-secret")
	if secretB64 != "" {
		secret, err := base64.StdEncoding.DecodeString(secretB64)
		if err != nil {
			return config.Config{}, fmt.Errorf("decode lookup secret: %w", err)
		}
		cfg.LookupSecret = secret
	}

	if f := cmd.Flags().Lookup("session-secret"); f != nil && f.Value.String() != "" {
		secret, err := base64.StdEncoding.DecodeString(f.Value.String())
		if err != nil {
			return config.Config{}, fmt.Errorf("decode session secret: %w", err)
		}
		cfg.SessionSecret = secret
	}

	return cfg, nil
}

// openStore creates a store.Store based on the persistent flags.
func openStore(cmd *cobra.Command) (store.Store, error) {
	storeType, _ := cmd.Flags().GetString("store")
	switch storeType {
	case "memory":
		return storemem.NewStore(), nil
	case "sqlite":
		path, _ := cmd.Flags().GetString("db")
		return storesqlite.NewStore(path)
	case "postgres":
		dsn, _ := cmd.Flags().GetString("dsn")
		if dsn == "" {
			return nil, fmt.Errorf("postgres store requires --dsn")
		}
		return storepg.NewStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store type: %q", storeType)
	}
}

// limitedSink drops records from tenants that exceed their rate. Dropped
// records are not an error; the generator keeps going.
type limitedSink struct {
	engine *ingest.Engine
	limits *ratelimit.Registry
	names  map[int64]string
}

func (s *limitedSink) AddMessage(ctx context.Context, topic, payload string, tenantID int64) error {
	if name, ok := s.names[tenantID]; ok && !s.limits.Allow(name) {
		return nil
	}
	return s.engine.AddMessage(ctx, topic, payload, tenantID)
}

// tenantNames indexes tenant names by numeric ID for the rate limiter.
func tenantNames(tenants []chatterbox.Tenant) map[int64]string {
	names := make(map[int64]string, len(tenants))
	for _, t := range tenants {
		names[t.ID] = t.Name
	}
	return names
}
