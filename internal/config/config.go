// Package config defines the top-level configuration for the timeline engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CHRONO_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Reality  RealityConfig  `toml:"reality"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Sim      SimConfig      `toml:"sim"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the timeline engine tuning parameters.
type EngineConfig struct {
	// TickIntervalSeconds is the heartbeat period driving decay and
	// divergence recomputation.
	TickIntervalSeconds int `toml:"tick_interval_seconds"`
	// TickWorkers bounds how many timeline ticks run concurrently.
	TickWorkers int `toml:"tick_workers"`
	// TradeCap is the maximum share quantity per trade. 0 disables the cap.
	TradeCap float64 `toml:"trade_cap"`
	// ShieldMax bounds the stability gain from a single SHIELD action.
	ShieldMax float64 `toml:"shield_max"`
	// SabotageRate converts stake into stability damage (delta = -stake*rate).
	SabotageRate float64 `toml:"sabotage_rate"`
	// SabotageCap bounds the stability damage from a single SABOTAGE action.
	SabotageCap float64 `toml:"sabotage_cap"`
	// CascadeThreshold is the minimum |stability delta| that triggers ripples.
	CascadeThreshold float64 `toml:"cascade_threshold"`
	// CascadeFraction is the share of the originating delta propagated to
	// each related timeline, sign preserved.
	CascadeFraction float64 `toml:"cascade_fraction"`
	// SnapshotEvery saves a full-state snapshot after this many flaps.
	// 0 disables snapshotting.
	SnapshotEvery int64 `toml:"snapshot_every"`
	// ArchiveRetentionHours keeps flaps in the primary store for this long
	// before the archiver exports them to cold storage. 0 disables archival.
	ArchiveRetentionHours int `toml:"archive_retention_hours"`
}

// TickInterval returns the heartbeat period as a duration.
func (e EngineConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalSeconds) * time.Second
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	StreamMaxLen    int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for ledger archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RealityConfig locates the reality-signal collaborator that supplies
// alignment scores.
type RealityConfig struct {
	BaseURL        string `toml:"base_url"`
	WSURL          string `toml:"ws_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// StaleAfterSeconds marks a websocket-cached score unusable when older
	// than this; the tick is then skipped instead of using a guess.
	StaleAfterSeconds int `toml:"stale_after_seconds"`
}

// ServerConfig holds the HTTP API server configuration.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit bounds requests per client IP per second. 0 disables.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds webhook notification settings for paradox events.
type NotifyConfig struct {
	WebhookURL string   `toml:"webhook_url"`
	Events     []string `toml:"events"`
}

// SimConfig tunes the synthetic actor load used in simulate mode.
type SimConfig struct {
	Actors          int   `toml:"actors"`
	IntervalSeconds int   `toml:"interval_seconds"`
	Seed            int64 `toml:"seed"`
}

// Defaults returns a Config with sensible defaults for every tunable.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			TickIntervalSeconds:   60,
			TickWorkers:           8,
			TradeCap:              10000,
			ShieldMax:             5,
			SabotageRate:          0.01,
			SabotageCap:           8,
			CascadeThreshold:      5,
			CascadeFraction:       0.25,
			SnapshotEvery:         100,
			ArchiveRetentionHours: 0,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        10,
			CacheTTLMinutes: 10,
			StreamMaxLen:    10000,
		},
		Reality: RealityConfig{
			TimeoutSeconds:    5,
			StaleAfterSeconds: 120,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Sim: SimConfig{
			Actors:          4,
			IntervalSeconds: 2,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. It is
// mode-aware: simulate mode does not require the reality-signal endpoint.
func (c *Config) Validate() error {
	mode := strings.ToLower(c.Mode)
	switch mode {
	case "serve", "simulate", "replay":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	e := c.Engine
	if e.TickIntervalSeconds <= 0 {
		return fmt.Errorf("config: tick_interval_seconds must be positive, got %d", e.TickIntervalSeconds)
	}
	if e.TickWorkers <= 0 {
		return fmt.Errorf("config: tick_workers must be positive, got %d", e.TickWorkers)
	}
	if e.TradeCap < 0 {
		return fmt.Errorf("config: trade_cap must be non-negative, got %v", e.TradeCap)
	}
	if e.ShieldMax <= 0 {
		return fmt.Errorf("config: shield_max must be positive, got %v", e.ShieldMax)
	}
	if e.SabotageRate <= 0 || e.SabotageCap <= 0 {
		return fmt.Errorf("config: sabotage_rate and sabotage_cap must be positive")
	}
	if e.CascadeFraction < 0 || e.CascadeFraction > 1 {
		return fmt.Errorf("config: cascade_fraction must be in [0,1], got %v", e.CascadeFraction)
	}
	if e.SnapshotEvery < 0 {
		return fmt.Errorf("config: snapshot_every must be non-negative, got %d", e.SnapshotEvery)
	}

	if mode == "serve" && c.Reality.BaseURL == "" && c.Reality.WSURL == "" {
		return fmt.Errorf("config: serve mode requires reality.base_url or reality.ws_url")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if mode == "simulate" && c.Sim.Actors <= 0 {
		return fmt.Errorf("config: simulate mode requires sim.actors > 0")
	}
	return nil
}
