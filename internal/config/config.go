package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	DraftTTL        time.Duration
	StatsCacheTTL   time.Duration
	IdempotencyTTL  time.Duration

	OCREndpoint  string
	OCRAPIKey    string
	OCRTimeout   time.Duration
	OCRMaxImages int

	UploadDir     string
	PublicBaseURL string
	MaxBodyBytes  int64

	RateLimitAuth     string
	RateLimitScan     string
	WorkerConcurrency int
	MigrateOnStart    bool
	CurrencyCode      string

	LogFormat      string
	LogLevel       string
	OTLPEndpoint   string
	SamplingRatio  float64
	MetricsBuckets string
	PprofEnabled   bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8000"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		AccessTokenTTL:  parseDuration(k.String("ACCESS_TOKEN_TTL"), "24h"),
		RefreshTokenTTL: parseDuration(k.String("REFRESH_TOKEN_TTL"), "720h"),
		DraftTTL:        parseDuration(k.String("DRAFT_TTL"), "24h"),
		StatsCacheTTL:   parseDuration(k.String("STATS_CACHE_TTL"), "5m"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),

		OCREndpoint:  strings.TrimSpace(k.String("OCR_ENDPOINT")),
		OCRAPIKey:    k.String("OCR_API_KEY"),
		OCRTimeout:   parseDuration(k.String("OCR_TIMEOUT"), "20s"),
		OCRMaxImages: parseInt(k.String("OCR_MAX_IMAGES"), 5),

		UploadDir:     valueOrDefault(k.String("UPLOAD_DIR"), "./uploads"),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		MaxBodyBytes:  parseSize(k.String("MAX_BODY_BYTES"), 10<<20),

		RateLimitAuth:     valueOrDefault(k.String("RATE_LIMIT_AUTH"), "10-M"),
		RateLimitScan:     valueOrDefault(k.String("RATE_LIMIT_SCAN"), "30-H"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		MigrateOnStart:    parseBool(k.String("MIGRATE_ON_START")),
		CurrencyCode:      strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "IDR")),

		LogFormat:      valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:       valueOrDefault(k.String("LOG_LEVEL"), "info"),
		OTLPEndpoint:   strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		SamplingRatio:  parseFloat(k.String("OTEL_SAMPLING_RATIO"), 1),
		MetricsBuckets: k.String("METRICS_BUCKETS_MS"),
		PprofEnabled:   parseBool(k.String("PPROF_ENABLED")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.OCRMaxImages <= 0 {
		return nil, errors.New("OCR_MAX_IMAGES must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// parseSize accepts plain bytes or a KB/MB suffix.
func parseSize(value string, fallback int64) int64 {
	s := strings.ToUpper(strings.TrimSpace(value))
	if s == "" {
		return fallback
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "MB"):
		mult, s = 1<<20, strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		mult, s = 1<<10, strings.TrimSuffix(s, "KB")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * mult
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
