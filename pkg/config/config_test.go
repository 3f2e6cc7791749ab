package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/settlement/pkg/config"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"SETTLE_CONFIG", "SETTLE_LISTEN_ADDR", "LOG_LEVEL", "LOG_FORMAT", "SETTLE_BACKEND",
		"SETTLE_SQLITE_PATH", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "SETTLE_EVENTS_CHANNEL",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "SETTLE_TELEMETRY", "OTEL_EXPORTER_OTLP_INSECURE",
		"SETTLE_RATE_LIMIT_RPS", "SETTLE_RATE_LIMIT_BURST",
	} {
		t.Setenv(k, "")
	}
}

// A node must boot with no configuration at all.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Empty(t, cfg.Redis.Addr)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 50.0, cfg.RateLimit.RPS)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SETTLE_LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SETTLE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://db:5432/settle")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SETTLE_TELEMETRY", "true")
	t.Setenv("SETTLE_RATE_LIMIT_BURST", "7")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "postgres", cfg.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "settlement.events", cfg.Redis.Channel)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "settle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":7000"
backend: sqlite
sqlite_path: /var/lib/settle/state.db
redis:
  addr: cache:6379
  channel: trades
rate_limit:
  rps: 5
  burst: 10
`), 0o600))
	t.Setenv("SETTLE_CONFIG", path)
	t.Setenv("SETTLE_LISTEN_ADDR", ":7001")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.ListenAddr, "environment wins over the file")
	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "/var/lib/settle/state.db", cfg.SQLitePath)
	assert.Equal(t, "trades", cfg.Redis.Channel)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, "text", cfg.LogFormat, "unset file keys keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown backend": {"SETTLE_BACKEND": "etcd"},
		"postgres no url": {"SETTLE_BACKEND": "postgres"},
		"bad format":      {"LOG_FORMAT": "xml"},
		"bad rps":         {"SETTLE_RATE_LIMIT_RPS": "fast"},
		"missing file":    {"SETTLE_CONFIG": "/nonexistent/settle.yaml"},
		"negative burst":  {"SETTLE_RATE_LIMIT_BURST": "-1"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
