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

// Payment flow modes supported by the PayU integration.
const (
	ModeHosted = "hosted"
	ModeWidget = "widget"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	MigrationsPath     string
	CORSAllowedOrigins []string

	// PayU merchant credentials and environment selection.
	PayUMerchantKey  string
	PayUMerchantSalt string
	PayUEnv          string // "sandbox" or "production"
	PayUMode         string // ModeHosted or ModeWidget
	PayUTimeout      time.Duration

	// PublicBaseURL is where the provider posts callbacks; FrontBaseURL is
	// where customers land after a redirect flow.
	PublicBaseURL string
	FrontBaseURL  string

	Currency         string
	ShippingFeeMinor int64
	TaxRateBps       int

	WebhookReplayTTL  time.Duration
	CheckoutRateLimit string
	VerifyOnRedirect  bool
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
		MigrationsPath:     valueOrDefault(k.String("MIGRATIONS_PATH"), "file://migrations"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		PayUMerchantKey:    k.String("PAYU_MERCHANT_KEY"),
		PayUMerchantSalt:   k.String("PAYU_MERCHANT_SALT"),
		PayUEnv:            valueOrDefault(strings.ToLower(k.String("PAYU_ENV")), "sandbox"),
		PayUMode:           valueOrDefault(strings.ToLower(k.String("PAYU_MODE")), ModeHosted),
		PayUTimeout:        parseDuration(k.String("PAYU_TIMEOUT"), "10s"),
		PublicBaseURL:      valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"),
		FrontBaseURL:       valueOrDefault(k.String("FRONT_BASE_URL"), "http://localhost:3000"),
		Currency:           valueOrDefault(k.String("CURRENCY"), "INR"),
		ShippingFeeMinor:   parseInt64(k.String("SHIPPING_FEE_MINOR"), 6000),
		TaxRateBps:         int(parseInt64(k.String("TAX_RATE_BPS"), 2000)),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		CheckoutRateLimit:  valueOrDefault(k.String("CHECKOUT_RATE_LIMIT"), "10-M"),
		VerifyOnRedirect:   parseBool(valueOrDefault(k.String("PAYU_VERIFY_ON_REDIRECT"), "true")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PayUMerchantKey == "" {
		return nil, errors.New("PAYU_MERCHANT_KEY is required")
	}
	if cfg.PayUMerchantSalt == "" {
		return nil, errors.New("PAYU_MERCHANT_SALT is required")
	}
	if cfg.PayUMode != ModeHosted && cfg.PayUMode != ModeWidget {
		return nil, fmt.Errorf("PAYU_MODE must be %q or %q", ModeHosted, ModeWidget)
	}
	if cfg.ShippingFeeMinor < 0 {
		return nil, errors.New("SHIPPING_FEE_MINOR must be non-negative")
	}
	if cfg.TaxRateBps < 0 {
		return nil, errors.New("TAX_RATE_BPS must be non-negative")
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

// Sandbox reports whether the PayU integration targets the test environment.
func (c *Config) Sandbox() bool {
	return c.PayUEnv != "production"
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
		return value
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

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
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
