// Package config loads process-wide settings from the environment,
// optionally seeded from a .env file, mirroring the startup sequence the
// teacher corpus uses before falling back to os.Getenv.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the environment-driven process settings from spec §6.
type Config struct {
	ExchangeAPIKey    string
	ExchangeSecretKey string
	ExchangeBaseURL   string
	DatabaseURL       string
	RedisURL          string
	LogLevel          string

	APITimeoutMs       int
	DBQueryTimeoutMs   int
	AllowedOrigins     []string
	CORSEnabled        bool
	MaxTradesPerHour   int
	DefaultPollingMs   int
	DefaultOrderTOMs   int
	IPWhitelistEnabled bool
	IPWhitelist        []string
}

// Load reads an optional .env file (ignored if absent) and then populates
// a Config from the environment, applying the defaults the orchestrator
// and exchange client need when a variable is unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		ExchangeAPIKey:     os.Getenv("EXCHANGE_API_KEY"),
		ExchangeSecretKey:  os.Getenv("EXCHANGE_SECRET_KEY"),
		ExchangeBaseURL:    getOr("EXCHANGE_BASE_URL", "https://api.mexc.com"),
		DatabaseURL:        getOr("DATABASE_URL", "sniper.db"),
		RedisURL:           os.Getenv("REDIS_URL"),
		LogLevel:           getOr("LOG_LEVEL", "info"),
		APITimeoutMs:       getIntOr("API_TIMEOUT_MS", 3000),
		DBQueryTimeoutMs:   getIntOr("DB_QUERY_TIMEOUT_MS", 2000),
		AllowedOrigins:     splitCSV(os.Getenv("ALLOWED_ORIGINS")),
		CORSEnabled:        getBoolOr("CORS_ENABLED", false),
		MaxTradesPerHour:   getIntOr("MAX_TRADES_PER_HOUR", 10),
		DefaultPollingMs:   getIntOr("DEFAULT_POLLING_INTERVAL_MS", 5000),
		DefaultOrderTOMs:   getIntOr("DEFAULT_ORDER_TIMEOUT_MS", 5000),
		IPWhitelistEnabled: getBoolOr("IP_WHITELIST_ENABLED", false),
		IPWhitelist:        splitCSV(os.Getenv("IP_WHITELIST")),
	}

	return c, c.validate()
}

func (c *Config) validate() error {
	if c.ExchangeAPIKey == "" || c.ExchangeSecretKey == "" {
		return errMissingCredentials
	}
	return nil
}

var errMissingCredentials = configErr("EXCHANGE_API_KEY and EXCHANGE_SECRET_KEY are required")

type configErr string

func (e configErr) Error() string { return string(e) }

func getOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBoolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
