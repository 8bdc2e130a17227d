// Package config defines the explicit runtime configuration for the service.
//
// Configuration is a plain value constructed and validated once at startup
// and passed to components by the caller. There is no ambient global state
// and no environment access in library code; main() decides where values
// come from.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects the deployment mode. Production mode tightens secret
// requirements; dev mode allows insecure fallbacks for local work.
type Mode string

const (
	ModeDev        Mode = "dev"
	ModeProduction Mode = "production"
)

// Defaults for the ingestion and token subsystems.
const (
	DefaultMaxBufferSize     = 100
	DefaultFlushInterval     = 2 * time.Second
	DefaultTenantTokenWindow = 60 * time.Second
)

// MinLookupSecretLen is the minimum lookup secret length accepted in
// production mode.
const MinLookupSecretLen = 32

// devLookupSecret is the fixed fallback used when no lookup secret is
// configured outside production. It is deliberately recognizable so a
// leaked lookup key computed with it is obviously worthless.
const devLookupSecret = "floodgate-insecure-dev-lookup-secret-do-not-deploy"

var (
	// ErrWeakLookupSecret is returned when production mode is requested
	// without a sufficiently strong lookup secret.
	ErrWeakLookupSecret = errors.New("production mode requires a lookup secret of at least 32 bytes")
	// ErrUnknownMode is returned for a mode other than dev or production.
	ErrUnknownMode = errors.New("unknown deployment mode")
)

// Config holds every tunable the service recognizes.
type Config struct {
	// Mode is the deployment mode. Zero value is treated as dev.
	Mode Mode

	// LookupSecret keys the device token lookup index. Required (>= 32
	// bytes) in production; in dev mode an insecure fixed fallback is
	// substituted when empty.
	LookupSecret []byte

	// SessionSecret signs operator session JWTs. Falls back to
	// LookupSecret-independent dev secret handling in main; components
	// receive it as-is.
	SessionSecret []byte

	// MaxBufferSize triggers a size-based flush when the buffer reaches it.
	MaxBufferSize int

	// FlushInterval triggers a time-based flush of whatever is buffered.
	FlushInterval time.Duration

	// TenantTokenWindow is the validity granularity for tenant tokens.
	TenantTokenWindow time.Duration

	// RetentionTTL prunes telemetry older than this. Zero disables the
	// retention sweep.
	RetentionTTL time.Duration

	// TenantRatePerSec caps per-tenant ingest rate. Zero disables
	// rate limiting.
	TenantRatePerSec float64
}

// Default returns a Config with all defaults filled in, in dev mode.
func Default() Config {
	return Config{
		Mode:              ModeDev,
		MaxBufferSize:     DefaultMaxBufferSize,
		FlushInterval:     DefaultFlushInterval,
		TenantTokenWindow: DefaultTenantTokenWindow,
	}
}

// Validate checks the configuration and fails fast on anything that would
// otherwise surface as a latent runtime problem. It must be called before
// any component is constructed from the config.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDev, ModeProduction, "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Mode)
	}

	if c.Mode == ModeProduction && len(c.LookupSecret) < MinLookupSecretLen {
		return ErrWeakLookupSecret
	}

	if c.MaxBufferSize <= 0 {
		return fmt.Errorf("maxBufferSize must be positive, got %d", c.MaxBufferSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flushIntervalMs must be positive, got %s", c.FlushInterval)
	}
	if c.TenantTokenWindow < time.Second {
		return fmt.Errorf("tenantTokenWindowSec must be at least one second, got %s", c.TenantTokenWindow)
	}
	if c.RetentionTTL < 0 {
		return fmt.Errorf("retention TTL must not be negative, got %s", c.RetentionTTL)
	}
	if c.TenantRatePerSec < 0 {
		return fmt.Errorf("tenant rate must not be negative, got %g", c.TenantRatePerSec)
	}

	return nil
}

// EffectiveLookupSecret returns the configured lookup secret, or the fixed
// insecure dev fallback when none is set outside production. Call Validate
// first; in production mode this never falls back.
func (c *Config) EffectiveLookupSecret() []byte {
	if len(c.LookupSecret) > 0 {
		return c.LookupSecret
	}
	return []byte(devLookupSecret)
}
