package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr           string
	PostgresDSN        string
	RedisAddr          string
	KafkaBrokers       []string
	JWTSecret          string
	StatusCacheTTL     time.Duration
	AllocatorBatchSize int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		KafkaBrokers:       []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:          os.Getenv("JWT_SECRET"),
		StatusCacheTTL:     envSeconds("STATUS_CACHE_TTL_SECONDS", 1800),
		AllocatorBatchSize: envInt("ALLOCATOR_BATCH_SIZE", 5),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=payflow sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"postgres_dsn", cfg.PostgresDSN,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"status_cache_ttl", cfg.StatusCacheTTL,
		"allocator_batch_size", cfg.AllocatorBatchSize)
	return cfg
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer env value, using default", "key", key, "value", raw)
		return def
	}
	return n
}
