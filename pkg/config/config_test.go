package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONTRACTSHIELD_LOG_LEVEL",
		"CONTRACTSHIELD_REDIS_ADDR",
		"CONTRACTSHIELD_REDIS_PASSWORD",
		"CONTRACTSHIELD_REDIS_DB",
		"CONTRACTSHIELD_POSTGRES_DSN",
		"CONTRACTSHIELD_REPLAY_TABLE",
		"CONTRACTSHIELD_SCHEMA_ROOT",
		"CONTRACTSHIELD_WEBHOOK_MASTER_SECRET",
		"CONTRACTSHIELD_RATE_LIMIT_RPS",
		"CONTRACTSHIELD_RATE_LIMIT_BURST",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, "", cfg.RedisAddr)
	require.Equal(t, 0, cfg.RedisDB)
	require.Equal(t, "", cfg.PostgresDSN)
	require.Equal(t, "contractshield_replay", cfg.PostgresTable)
	require.Equal(t, ".", cfg.SchemaFSRoot)
	require.Equal(t, "", cfg.WebhookMasterSecretHex)
	require.Equal(t, 0.0, cfg.RateLimitRPS)
	require.Equal(t, 1, cfg.RateLimitBurst)
}

func TestLoad_HonorsEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTRACTSHIELD_LOG_LEVEL", "DEBUG")
	t.Setenv("CONTRACTSHIELD_REDIS_ADDR", "localhost:6379")
	t.Setenv("CONTRACTSHIELD_REDIS_DB", "3")
	t.Setenv("CONTRACTSHIELD_POSTGRES_DSN", "postgres://x")
	t.Setenv("CONTRACTSHIELD_REPLAY_TABLE", "custom_table")
	t.Setenv("CONTRACTSHIELD_SCHEMA_ROOT", "/schemas")
	t.Setenv("CONTRACTSHIELD_WEBHOOK_MASTER_SECRET", "deadbeef")
	t.Setenv("CONTRACTSHIELD_RATE_LIMIT_RPS", "12.5")
	t.Setenv("CONTRACTSHIELD_RATE_LIMIT_BURST", "20")

	cfg := Load()
	require.Equal(t, "DEBUG", cfg.LogLevel)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, 3, cfg.RedisDB)
	require.Equal(t, "postgres://x", cfg.PostgresDSN)
	require.Equal(t, "custom_table", cfg.PostgresTable)
	require.Equal(t, "/schemas", cfg.SchemaFSRoot)
	require.Equal(t, "deadbeef", cfg.WebhookMasterSecretHex)
	require.Equal(t, 12.5, cfg.RateLimitRPS)
	require.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoad_NonNumericRedisDBFallsBackToZero(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTRACTSHIELD_REDIS_DB", "not-a-number")
	cfg := Load()
	require.Equal(t, 0, cfg.RedisDB)
}
