// Package config loads ambient configuration for the reference CLI and the
// replay-store backends. The PDP library itself consumes no environment
// variables directly (spec §6) — this package exists for hosts embedding
// the cmd/contractshield-eval binary. Grounded on the teacher's
// pkg/config/config.go Load() pattern.
package config

import (
	"os"
	"strconv"
)

// Config holds the CLI's environment-driven configuration.
type Config struct {
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN   string
	PostgresTable string

	SchemaFSRoot string

	// WebhookMasterSecretHex, when set, backs a DeriveSecretResolver
	// fallback so a single master secret can sign every route's webhook
	// instead of provisioning one secret per route/provider pair.
	WebhookMasterSecretHex string

	// RateLimitRPS/RateLimitBurst configure the optional per-tenant rate
	// limiter the CLI applies ahead of Evaluate. RateLimitRPS <= 0 disables it.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from the environment, applying the same
// defaults a bare-metal deployment of the CLI would use.
func Load() *Config {
	logLevel := os.Getenv("CONTRACTSHIELD_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	redisDB := 0
	if v := os.Getenv("CONTRACTSHIELD_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	schemaRoot := os.Getenv("CONTRACTSHIELD_SCHEMA_ROOT")
	if schemaRoot == "" {
		schemaRoot = "."
	}

	table := os.Getenv("CONTRACTSHIELD_REPLAY_TABLE")
	if table == "" {
		table = "contractshield_replay"
	}

	rps := 0.0
	if v := os.Getenv("CONTRACTSHIELD_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rps = f
		}
	}
	burst := 1
	if v := os.Getenv("CONTRACTSHIELD_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			burst = n
		}
	}

	return &Config{
		LogLevel:               logLevel,
		RedisAddr:              os.Getenv("CONTRACTSHIELD_REDIS_ADDR"),
		RedisPassword:          os.Getenv("CONTRACTSHIELD_REDIS_PASSWORD"),
		RedisDB:                redisDB,
		PostgresDSN:            os.Getenv("CONTRACTSHIELD_POSTGRES_DSN"),
		PostgresTable:          table,
		SchemaFSRoot:           schemaRoot,
		WebhookMasterSecretHex: os.Getenv("CONTRACTSHIELD_WEBHOOK_MASTER_SECRET"),
		RateLimitRPS:           rps,
		RateLimitBurst:         burst,
	}
}
