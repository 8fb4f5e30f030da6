package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("GEMA_EXAM_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "postgres", cfg.DatabaseDriver)
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, 30*time.Second, cfg.PollCacheTTL)
	require.Equal(t, 12*time.Hour, cfg.TokenTTL)
	require.Equal(t, 120, cfg.EventRateLimit)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("GEMA_EXAM_JWT_SECRET", "secret")
	t.Setenv("GEMA_EXAM_DATABASE_DRIVER", "SQLite")
	t.Setenv("GEMA_EXAM_SWEEP_INTERVAL", "15s")
	t.Setenv("GEMA_EXAM_APP_PORT", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.DatabaseDriver)
	require.Equal(t, 15*time.Second, cfg.SweepInterval)
	require.Equal(t, ":9090", cfg.HTTPAddress())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("GEMA_EXAM_JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GEMA_EXAM_JWT_SECRET", "secret")
	t.Setenv("GEMA_EXAM_POLL_CACHE_TTL", "soon")
	_, err = Load()
	require.ErrorContains(t, err, "poll.cache_ttl")

	t.Setenv("GEMA_EXAM_POLL_CACHE_TTL", "30s")
	t.Setenv("GEMA_EXAM_DATABASE_DRIVER", "mysql")
	_, err = Load()
	require.ErrorContains(t, err, "unsupported database driver")
}
