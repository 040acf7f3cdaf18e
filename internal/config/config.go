package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported STORE_DRIVER values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config contains runtime configuration required by the service.
type Config struct {
	StoreDriver string
	DBURL       string
	SQLitePath  string

	HTTPAddr     string
	APIKeys      map[string]string // apiKey -> producerID; empty disables the check
	MaxBatchSize int
	MaxBodyBytes int64 // cap on raw and gzip-decompressed request bodies

	MaxDuration         time.Duration
	FutureSkewTolerance time.Duration
	WarningThreshold    float64
	TopLinesLimit       int

	RedisAddr     string
	RedisPassword string
	StatsCacheTTL time.Duration

	LogLevel   string
	LogFormat  string // json or console
	InstanceID string
}

// Load reads configuration from environment variables.
// API_KEYS format: "producer1:key1,producer2:key2"
func Load() (Config, error) {
	cfg := Config{
		StoreDriver: strings.ToLower(env("STORE_DRIVER", DriverPostgres)),
		DBURL:       strings.TrimSpace(os.Getenv("DB_URL")),
		SQLitePath:  env("SQLITE_PATH", "factory-events.db"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		LogLevel:   env("LOG_LEVEL", "info"),
		LogFormat:  strings.ToLower(env("LOG_FORMAT", "json")),
		InstanceID: instanceID(),
	}

	var err error
	if cfg.MaxBatchSize, err = envInt("MAX_BATCH_SIZE", 10000); err != nil {
		return Config{}, err
	}
	maxBody, err := envInt("MAX_BODY_BYTES", 64<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBodyBytes = int64(maxBody)
	if cfg.TopLinesLimit, err = envInt("TOP_LINES_DEFAULT_LIMIT", 10); err != nil {
		return Config{}, err
	}
	if cfg.MaxDuration, err = envDuration("MAX_DURATION", 6*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.FutureSkewTolerance, err = envDuration("FUTURE_SKEW_TOLERANCE", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.StatsCacheTTL, err = envDuration("STATS_CACHE_TTL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WarningThreshold, err = envFloat("WARNING_THRESHOLD", 2.0); err != nil {
		return Config{}, err
	}
	if cfg.APIKeys, err = parseAPIKeys(os.Getenv("API_KEYS")); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBURL == "" {
			return errors.New("DB_URL required")
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, sqlite, memory; got %q", c.StoreDriver)
	}
	if c.MaxBatchSize <= 0 {
		return errors.New("MAX_BATCH_SIZE must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}
	if c.TopLinesLimit <= 0 {
		return errors.New("TOP_LINES_DEFAULT_LIMIT must be positive")
	}
	if c.MaxDuration <= 0 {
		return errors.New("MAX_DURATION must be positive")
	}
	if c.FutureSkewTolerance < 0 {
		return errors.New("FUTURE_SKEW_TOLERANCE must not be negative")
	}
	return nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apiKeys, nil
	}

	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "producer:key,producer:key"`)
		}
		producer := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if producer == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "producer:key,producer:key"`)
		}
		apiKeys[key] = producer
	}
	return apiKeys, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int env %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float env %s=%q: %w", key, v, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration env %s=%q: %w", key, v, err)
	}
	return d, nil
}

func instanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
