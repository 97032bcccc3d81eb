package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fundproof/core/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LEDGER_GATEWAY_URL", "")
	t.Setenv("LEDGER_GATEWAY_TOKEN", "")
	t.Setenv("CONFIRMATION_ROUNDS", "")
	t.Setenv("VOTE_MAX_AGE", "")
	t.Setenv("LEDGER_NETWORK", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "escrowd.db", cfg.DatabasePath)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Contains(t, cfg.GatewayURL, "localhost") // Default is local
	assert.Equal(t, uint64(10), cfg.ConfirmationRounds)
	assert.Equal(t, 24*time.Hour, cfg.VoteMaxAge)
	assert.Equal(t, "testnet", cfg.Network)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_PATH", "/var/lib/escrowd/votes.db")
	t.Setenv("DATABASE_URL", "postgres://production:5432/votes")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LEDGER_GATEWAY_URL", "https://mainnet-gw.example.org")
	t.Setenv("LEDGER_GATEWAY_TOKEN", "s3cret")
	t.Setenv("CONFIRMATION_ROUNDS", "25")
	t.Setenv("VOTE_MAX_AGE", "72h")
	t.Setenv("LEDGER_NETWORK", "mainnet")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "/var/lib/escrowd/votes.db", cfg.DatabasePath)
	assert.Equal(t, "postgres://production:5432/votes", cfg.DatabaseURL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "https://mainnet-gw.example.org", cfg.GatewayURL)
	assert.Equal(t, "s3cret", cfg.GatewayToken)
	assert.Equal(t, uint64(25), cfg.ConfirmationRounds)
	assert.Equal(t, 72*time.Hour, cfg.VoteMaxAge)
	assert.Equal(t, "mainnet", cfg.Network)
}

// TestLoad_MalformedValues verifies that unparseable numeric and duration
// values fall back to the defaults rather than aborting boot.
func TestLoad_MalformedValues(t *testing.T) {
	t.Setenv("CONFIRMATION_ROUNDS", "not-a-number")
	t.Setenv("VOTE_MAX_AGE", "soon")

	cfg := config.Load()

	assert.Equal(t, uint64(10), cfg.ConfirmationRounds)
	assert.Equal(t, 24*time.Hour, cfg.VoteMaxAge)
}
