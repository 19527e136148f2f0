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
	CORSAllowedOrigins []string
	RunMigrations      bool

	AdminJWTSecret   string
	AdminJWTIssuer   string
	AdminJWTAudience string

	XMoneyLiveURL        string
	XMoneyTestURL        string
	XMoneySDKURL         string
	VerifyTimeout        time.Duration
	VerifyMaxAttempts    int
	VerifyBackoff        time.Duration
	BreakerMinRequests   int
	BreakerFailureRatio  float64
	BreakerOpenFor       time.Duration
	BootstrapPublicKey   string
	BootstrapSecretKey   string
	SiteName             string
	StoreCountry         string
	CheckoutURL          string
	OrderReceivedURL     string
	CartTTL              time.Duration
	SessionCookieName    string
	CSRFHeader           string
	IPNReplayTTL         time.Duration
	IPNBodyLimitBytes    int64
	CheckoutRateLimitMax int
	CheckoutRateWindow   time.Duration
	IdempotencyTTL       time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	ReconcileInterval time.Duration
	ReconcileBatch    int
	ReconcileLockTTL  time.Duration
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
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RunMigrations:      parseBool(k.String("RUN_MIGRATIONS")),

		AdminJWTSecret:   k.String("ADMIN_JWT_SECRET"),
		AdminJWTIssuer:   valueOrDefault(k.String("ADMIN_JWT_ISSUER"), "xmoney-bridge"),
		AdminJWTAudience: valueOrDefault(k.String("ADMIN_JWT_AUDIENCE"), "xmoney-admin"),

		XMoneyLiveURL:        valueOrDefault(k.String("XMONEY_API_URL_LIVE"), "https://api.xmoney.com"),
		XMoneyTestURL:        valueOrDefault(k.String("XMONEY_API_URL_TEST"), "https://api-stage.xmoney.com"),
		XMoneySDKURL:         valueOrDefault(k.String("XMONEY_SDK_URL"), "https://secure.xmoney.com/sdk/v1/xmoney.js"),
		VerifyTimeout:        parseDuration(k.String("XMONEY_VERIFY_TIMEOUT"), "30s"),
		VerifyMaxAttempts:    parseInt(k.String("XMONEY_VERIFY_MAX_ATTEMPTS"), 2),
		VerifyBackoff:        parseDuration(k.String("XMONEY_VERIFY_BACKOFF"), "200ms"),
		BreakerMinRequests:   parseInt(k.String("XMONEY_BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio:  parseFloat(k.String("XMONEY_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:       parseDuration(k.String("XMONEY_BREAKER_OPEN_FOR"), "30s"),
		BootstrapPublicKey:   strings.TrimSpace(k.String("XMONEY_PUBLIC_KEY")),
		BootstrapSecretKey:   strings.TrimSpace(k.String("XMONEY_SECRET_KEY")),
		SiteName:             valueOrDefault(k.String("SITE_NAME"), "Store"),
		StoreCountry:         strings.ToUpper(strings.TrimSpace(k.String("STORE_COUNTRY"))),
		CheckoutURL:          valueOrDefault(k.String("CHECKOUT_URL"), "http://localhost:3000/checkout"),
		OrderReceivedURL:     valueOrDefault(k.String("ORDER_RECEIVED_URL"), "http://localhost:3000/checkout/order-received/{id}?key={key}"),
		CartTTL:              parseDuration(k.String("CART_TTL"), "72h"),
		SessionCookieName:    valueOrDefault(k.String("SESSION_COOKIE_NAME"), "xmoney_session"),
		CSRFHeader:           valueOrDefault(k.String("CSRF_HEADER"), "X-CSRF-Token"),
		IPNReplayTTL:         parseDuration(k.String("IPN_REPLAY_TTL"), "30s"),
		IPNBodyLimitBytes:    int64(parseInt(k.String("IPN_BODY_LIMIT_BYTES"), 64*1024)),
		CheckoutRateLimitMax: parseInt(k.String("CHECKOUT_RATE_LIMIT_MAX"), 30),
		CheckoutRateWindow:   parseDuration(k.String("CHECKOUT_RATE_LIMIT_WINDOW"), "1m"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),

		KafkaBrokers: splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:   valueOrDefault(k.String("KAFKA_TOPIC"), "xmoney.payments"),

		ReconcileInterval: parseDuration(k.String("RECONCILE_INTERVAL"), "1m"),
		ReconcileBatch:    parseInt(k.String("RECONCILE_BATCH"), 50),
		ReconcileLockTTL:  parseDuration(k.String("RECONCILE_LOCK_TTL"), "2m"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.VerifyTimeout <= 0 {
		return nil, errors.New("XMONEY_VERIFY_TIMEOUT must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
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
