package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateForSimulate(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "simulate"
	assert.NoError(t, cfg.Validate())
}

func TestServeModeRequiresRealityEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	assert.Error(t, cfg.Validate())

	cfg.Reality.BaseURL = "http://reality.internal:9000"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"bad mode":          func(c *Config) { c.Mode = "panic" },
		"zero tick":         func(c *Config) { c.Engine.TickIntervalSeconds = 0 },
		"zero workers":      func(c *Config) { c.Engine.TickWorkers = 0 },
		"negative cap":      func(c *Config) { c.Engine.TradeCap = -1 },
		"zero shield":       func(c *Config) { c.Engine.ShieldMax = 0 },
		"fraction over 1":   func(c *Config) { c.Engine.CascadeFraction = 1.5 },
		"negative snapshot": func(c *Config) { c.Engine.SnapshotEvery = -1 },
		"bad port":          func(c *Config) { c.Server.Port = 70000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = "simulate"
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHRONO_MODE", "replay")
	t.Setenv("CHRONO_ENGINE_TICK_INTERVAL_SECONDS", "15")
	t.Setenv("CHRONO_ENGINE_CASCADE_FRACTION", "0.3")
	t.Setenv("CHRONO_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CHRONO_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CHRONO_POSTGRES_RUN_MIGRATIONS", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "replay", cfg.Mode)
	assert.Equal(t, 15, cfg.Engine.TickIntervalSeconds)
	assert.InDelta(t, 0.3, cfg.Engine.CascadeFraction, 1e-12)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Postgres.RunMigrations)
}
