package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CHRONO_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CHRONO_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "CHRONO_MODE")
	setStr(&cfg.LogLevel, "CHRONO_LOG_LEVEL")

	// ── Engine ──
	setInt(&cfg.Engine.TickIntervalSeconds, "CHRONO_ENGINE_TICK_INTERVAL_SECONDS")
	setInt(&cfg.Engine.TickWorkers, "CHRONO_ENGINE_TICK_WORKERS")
	setFloat64(&cfg.Engine.TradeCap, "CHRONO_ENGINE_TRADE_CAP")
	setFloat64(&cfg.Engine.ShieldMax, "CHRONO_ENGINE_SHIELD_MAX")
	setFloat64(&cfg.Engine.SabotageRate, "CHRONO_ENGINE_SABOTAGE_RATE")
	setFloat64(&cfg.Engine.SabotageCap, "CHRONO_ENGINE_SABOTAGE_CAP")
	setFloat64(&cfg.Engine.CascadeThreshold, "CHRONO_ENGINE_CASCADE_THRESHOLD")
	setFloat64(&cfg.Engine.CascadeFraction, "CHRONO_ENGINE_CASCADE_FRACTION")
	setInt64(&cfg.Engine.SnapshotEvery, "CHRONO_ENGINE_SNAPSHOT_EVERY")
	setInt(&cfg.Engine.ArchiveRetentionHours, "CHRONO_ENGINE_ARCHIVE_RETENTION_HOURS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CHRONO_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CHRONO_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CHRONO_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CHRONO_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CHRONO_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CHRONO_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CHRONO_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CHRONO_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CHRONO_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CHRONO_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CHRONO_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHRONO_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHRONO_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHRONO_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CHRONO_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CHRONO_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "CHRONO_REDIS_CACHE_TTL_MINUTES")
	setInt(&cfg.Redis.StreamMaxLen, "CHRONO_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CHRONO_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CHRONO_S3_REGION")
	setStr(&cfg.S3.Bucket, "CHRONO_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CHRONO_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CHRONO_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CHRONO_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CHRONO_S3_FORCE_PATH_STYLE")

	// ── Reality signal ──
	setStr(&cfg.Reality.BaseURL, "CHRONO_REALITY_BASE_URL")
	setStr(&cfg.Reality.WSURL, "CHRONO_REALITY_WS_URL")
	setInt(&cfg.Reality.TimeoutSeconds, "CHRONO_REALITY_TIMEOUT_SECONDS")
	setInt(&cfg.Reality.StaleAfterSeconds, "CHRONO_REALITY_STALE_AFTER_SECONDS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CHRONO_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CHRONO_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CHRONO_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CHRONO_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CHRONO_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "CHRONO_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CHRONO_NOTIFY_EVENTS")

	// ── Sim ──
	setInt(&cfg.Sim.Actors, "CHRONO_SIM_ACTORS")
	setInt(&cfg.Sim.IntervalSeconds, "CHRONO_SIM_INTERVAL_SECONDS")
	setInt64(&cfg.Sim.Seed, "CHRONO_SIM_SEED")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
