package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. FromEnv keeps main lean.
type Config struct {
	Addr     string
	LogLevel string

	PostgresDSN string

	Redis RedisConfig

	Kafka KafkaConfig

	JWTSigningKey string

	// Collaborator endpoints for the reconciliation upload path.
	ExtractorURL string
	ProposerURL  string
}

// RedisConfig configures the optional graph snapshot cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("REDLINE_ADDR", ":8080"),
		LogLevel:      envOr("REDLINE_LOG_LEVEL", "info"),
		PostgresDSN:   os.Getenv("REDLINE_POSTGRES_DSN"),
		JWTSigningKey: envOr("REDLINE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ExtractorURL:  os.Getenv("REDLINE_EXTRACTOR_URL"),
		ProposerURL:   os.Getenv("REDLINE_PROPOSER_URL"),
	}

	cfg.Redis = RedisConfig{
		URL:          os.Getenv("REDLINE_REDIS_URL"),
		PoolSize:     envIntOr("REDLINE_REDIS_POOL_SIZE", 10),
		MinIdleConns: envIntOr("REDLINE_REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	if brokers := os.Getenv("REDLINE_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers: splitComma(brokers),
			Topic:   envOr("REDLINE_KAFKA_AUDIT_TOPIC", "redline.audit"),
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
