// Package config builds the process configuration once at startup.
// Handlers never read ambient environment state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORS modes. Strict rejects requests from origins outside the
// allowlist; permissive serves them but logs a warning.
const (
	CORSStrict     = "strict"
	CORSPermissive = "permissive"
)

type Config struct {
	Port string

	// External spreadsheet store.
	SheetID      string
	SheetRange   string
	HeaderRange  string
	ClientEmail  string
	PrivateKey   string
	StoreTimeout time.Duration

	// CORS policy.
	CORSMode       string
	AllowedOrigins []string

	// Per-IP submission rate limit, requests per minute. 0 disables.
	RateLimitPerMinute int
	RedisAddr          string
	RedisPassword      string

	// JSON-line audit trail; empty disables.
	AuditLogPath string
}

// Load reads configuration from the environment, loading a .env file
// first when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getenv("PORT", "8080"),
		SheetID:            os.Getenv("SHEET_ID"),
		SheetRange:         getenv("SHEET_RANGE", "Sheet1!A:I"),
		HeaderRange:        getenv("SHEET_HEADER_RANGE", "Sheet1!A1:I1"),
		ClientEmail:        os.Getenv("GOOGLE_CLIENT_EMAIL"),
		PrivateKey:         strings.ReplaceAll(os.Getenv("GOOGLE_PRIVATE_KEY"), `\n`, "\n"),
		StoreTimeout:       10 * time.Second,
		CORSMode:           getenv("CORS_MODE", CORSPermissive),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		AuditLogPath:       getenv("AUDIT_LOG_PATH", "data/leadgate-audit.log"),
		RateLimitPerMinute: 60,
	}

	if v := os.Getenv("STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STORE_TIMEOUT %q: %w", v, err)
		}
		cfg.StoreTimeout = d
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPM %q", v)
		}
		cfg.RateLimitPerMinute = n
	}
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if cfg.CORSMode != CORSStrict && cfg.CORSMode != CORSPermissive {
		return nil, fmt.Errorf("CORS_MODE must be %q or %q, got %q", CORSStrict, CORSPermissive, cfg.CORSMode)
	}
	if cfg.CORSMode == CORSStrict && len(cfg.AllowedOrigins) == 0 {
		return nil, fmt.Errorf("CORS_MODE=strict requires CORS_ALLOWED_ORIGINS")
	}
	if cfg.SheetID == "" {
		return nil, fmt.Errorf("SHEET_ID is required")
	}
	if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_EMAIL and GOOGLE_PRIVATE_KEY are required")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
