package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabasePath is the SQLite database file. DATABASE_URL, when set,
	// switches the vote ledger to postgres instead.
	DatabasePath string
	DatabaseURL  string

	// RedisAddr enables the distributed release-claim gate when running
	// more than one engine instance. Empty means the SQLite claim column
	// arbitrates alone.
	RedisAddr string

	GatewayURL   string
	GatewayToken string

	ConfirmationRounds uint64
	VoteMaxAge         time.Duration
	ClockSkew          time.Duration
	ReconcileInterval  time.Duration

	// ProfilesDir holds per-network YAML profiles (profile_<network>.yaml).
	ProfilesDir string
	Network     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "escrowd.db"
	}

	gatewayURL := os.Getenv("LEDGER_GATEWAY_URL")
	if gatewayURL == "" {
		// Default to a local sandbox node
		gatewayURL = "http://localhost:4001"
	}

	network := os.Getenv("LEDGER_NETWORK")
	if network == "" {
		network = "testnet"
	}

	return &Config{
		Port:               port,
		LogLevel:           logLevel,
		DatabasePath:       dbPath,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		GatewayURL:         gatewayURL,
		GatewayToken:       os.Getenv("LEDGER_GATEWAY_TOKEN"),
		ConfirmationRounds: envUint("CONFIRMATION_ROUNDS", 10),
		VoteMaxAge:         envDuration("VOTE_MAX_AGE", 24*time.Hour),
		ClockSkew:          envDuration("CLOCK_SKEW", 5*time.Minute),
		ReconcileInterval:  envDuration("RECONCILE_INTERVAL", 15*time.Second),
		ProfilesDir:        os.Getenv("PROFILES_DIR"),
		Network:            network,
	}
}

func envUint(key string, def uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}
