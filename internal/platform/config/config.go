// Package config reads daemon configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the audit daemon needs at startup.
type Config struct {
	DatabaseURL string

	RedisURL      string
	StatsCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	RetentionDays   int
	CleanupInterval time.Duration

	MetricsAddr string

	// BestEffortWrites detaches ledger appends from caller transactions.
	// The default couples them: a failed audit write fails the mutation.
	BestEffortWrites bool
}

// FromEnv builds a Config from environment variables, with development
// defaults for everything but the database.
func FromEnv() Config {
	return Config{
		DatabaseURL:      envString("TRANSTRACK_DATABASE_URL", "postgres://localhost:5432/transtrack?sslmode=disable"),
		RedisURL:         os.Getenv("TRANSTRACK_REDIS_URL"),
		StatsCacheTTL:    envDuration("TRANSTRACK_STATS_CACHE_TTL", 5*time.Minute),
		KafkaBrokers:     envList("TRANSTRACK_KAFKA_BROKERS"),
		KafkaTopic:       envString("TRANSTRACK_KAFKA_TOPIC", "transtrack.audit"),
		RetentionDays:    envInt("TRANSTRACK_RETENTION_DAYS", 365),
		CleanupInterval:  envDuration("TRANSTRACK_CLEANUP_INTERVAL", 24*time.Hour),
		MetricsAddr:      envString("TRANSTRACK_METRICS_ADDR", ":9090"),
		BestEffortWrites: os.Getenv("TRANSTRACK_BEST_EFFORT_WRITES") == "true",
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
