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
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// SessionTTL bounds how long shopper promotion state lives in Redis.
	SessionTTL time.Duration

	// TaxBps is the default tax rate in basis points used for pricing previews.
	TaxBps int

	// Ordernumbers identifying surcharge/discount lines that must be removed
	// when the basket becomes empty.
	SurchargeAbsoluteNumber string
	SurchargePercentNumber  string
	BasketDiscountNumber    string
	ShippingDiscountNumber  string
}

// SurchargeNumbers returns the configured surcharge/discount ordernumbers.
func (c *Config) SurchargeNumbers() []string {
	return []string{
		c.SurchargeAbsoluteNumber,
		c.ShippingDiscountNumber,
		c.SurchargePercentNumber,
		c.BasketDiscountNumber,
	}
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                  valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                    valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:             k.String("DATABASE_URL"),
		RedisURL:                k.String("REDIS_URL"),
		SessionTTL:              parseDuration(k.String("SESSION_TTL"), "168h"),
		TaxBps:                  atoiDefault(k.String("TAX_BPS"), 1900),
		SurchargeAbsoluteNumber: valueOrDefault(k.String("SURCHARGE_ABSOLUTE_NUMBER"), "PAYMENTSURCHARGEABSOLUTE"),
		SurchargePercentNumber:  valueOrDefault(k.String("SURCHARGE_PERCENT_NUMBER"), "PAYMENTSURCHARGE"),
		BasketDiscountNumber:    valueOrDefault(k.String("BASKET_DISCOUNT_NUMBER"), "DISCOUNT"),
		ShippingDiscountNumber:  valueOrDefault(k.String("SHIPPING_DISCOUNT_NUMBER"), "SHIPPINGDISCOUNT"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
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

func atoiDefault(value string, def int) int {
	base := strings.TrimSpace(value)
	if base == "" {
		return def
	}
	parsed, err := strconv.Atoi(base)
	if err != nil {
		return def
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
