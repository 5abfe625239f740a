package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries all runtime configuration, read once at bootstrap.
type Config struct {
	AppEnv   string
	LogLevel string

	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	// Backing record store. When DatabaseURL is empty the SQLite path is used.
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	// Cache TTLs.
	UserTTL time.Duration
	FlowTTL time.Duration

	// Backing store throttling and batching.
	StoreMaxPerSecond float64
	BatchSize         int
	BatchTimeout      time.Duration

	// Flow inactivity supervision.
	SupervisorInterval time.Duration
	ReminderThreshold  time.Duration
	CancelThreshold    time.Duration

	// Context-artifact collaborator.
	ArtifactBaseURL string
	ArtifactAPIKey  string
	ArtifactTimeout time.Duration

	WhatsAppStorePath string
	WhatsAppLogLevel  string
}

// Load builds a Config from environment variables with sane defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   getEnv("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "clubbot"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DatabaseSchema: getEnv("DATABASE_SCHEMA", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "data/club.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		ArtifactBaseURL: getEnv("ARTIFACT_BASE_URL", ""),
		ArtifactAPIKey:  getEnv("ARTIFACT_API_KEY", ""),

		WhatsAppStorePath: getEnv("WA_STORE_PATH", "data/wa.db"),
		WhatsAppLogLevel:  getEnv("WA_LOG_LEVEL", "WARN"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.RedisTLS = getBool("REDIS_TLS", false)

	if cfg.UserTTL, err = getDuration("USER_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.FlowTTL, err = getDuration("FLOW_STATE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.StoreMaxPerSecond, err = getFloat("STORE_MAX_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = getInt("STORE_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.BatchTimeout, err = getDuration("STORE_BATCH_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}

	if cfg.SupervisorInterval, err = getDuration("SUPERVISOR_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReminderThreshold, err = getDuration("FLOW_REMINDER_AFTER", time.Minute); err != nil {
		return nil, err
	}
	if cfg.CancelThreshold, err = getDuration("FLOW_CANCEL_AFTER", 2*time.Minute); err != nil {
		return nil, err
	}

	if cfg.ArtifactTimeout, err = getDuration("ARTIFACT_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	if cfg.StoreMaxPerSecond <= 0 {
		return nil, fmt.Errorf("STORE_MAX_RPS must be positive")
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
		return nil, fmt.Errorf("STORE_BATCH_SIZE must be within 1..10, got %d", cfg.BatchSize)
	}
	if cfg.ReminderThreshold >= cfg.CancelThreshold {
		return nil, fmt.Errorf("FLOW_REMINDER_AFTER must be below FLOW_CANCEL_AFTER")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
