package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogFile      string
	Debug        bool
	JWTSecret    string
	RulesFile    string
	// TrustedProxies may set the client IP through X-Forwarded-For. Empty means the
	// connection's remote address is the client IP.
	TrustedProxies []string
	Security       SecurityConfig
}

// SecurityConfig groups the detection and mitigation knobs.
type SecurityConfig struct {
	AdminPrefixes          []string
	RateLimitPrefixes      []string
	AlertURLs              []string
	SessionCookie          string // cookie inspected for tampering
	InspectQuery           bool   // run the injection detectors over query values in the gate
	ExpirySchedule         string
	PurgeSchedule          string
	FailedLoginRetention   time.Duration
	AutoBlockDuration      time.Duration
	RateLimitBlockDuration time.Duration
	AutoLockDuration       time.Duration
	NotFoundWindow         time.Duration
	NotFoundThreshold      int
	RequestRateWindow      time.Duration
	RequestRateThreshold   int
}

// DefaultSecurityConfig returns the settings used when nothing is configured.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AdminPrefixes:          []string{"/admin", "/monitoring", "/api/security", "/upload"},
		RateLimitPrefixes:      []string{"/api/"},
		SessionCookie:          "warden_session",
		InspectQuery:           true,
		ExpirySchedule:         "@every 1m",
		PurgeSchedule:          "@daily",
		FailedLoginRetention:   7 * 24 * time.Hour,
		AutoBlockDuration:      24 * time.Hour,
		RateLimitBlockDuration: 30 * time.Minute,
		AutoLockDuration:       2 * time.Hour,
		NotFoundWindow:         5 * time.Minute,
		NotFoundThreshold:      20,
		RequestRateWindow:      time.Minute,
		RequestRateThreshold:   100,
	}
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	sec := DefaultSecurityConfig()
	sec.AdminPrefixes = getList("WARDEN_ADMIN_PREFIXES", sec.AdminPrefixes)
	sec.RateLimitPrefixes = getList("WARDEN_RATE_LIMIT_PREFIXES", sec.RateLimitPrefixes)
	sec.AlertURLs = getList("WARDEN_ALERT_URLS", nil)
	sec.SessionCookie = getEnv("WARDEN_SESSION_COOKIE", sec.SessionCookie)
	sec.InspectQuery = getEnv("WARDEN_INSPECT_QUERY", "true") != "false"
	sec.ExpirySchedule = getEnv("WARDEN_EXPIRY_SCHEDULE", sec.ExpirySchedule)
	sec.PurgeSchedule = getEnv("WARDEN_PURGE_SCHEDULE", sec.PurgeSchedule)

	days, err := strconv.Atoi(getEnv("WARDEN_FAILED_LOGIN_RETENTION_DAYS", "7"))
	if err != nil || days <= 0 {
		return Config{}, fmt.Errorf("invalid WARDEN_FAILED_LOGIN_RETENTION_DAYS: must be a positive integer")
	}
	sec.FailedLoginRetention = time.Duration(days) * 24 * time.Hour

	cfg := Config{
		Environment:  getEnv("WARDEN_ENV", "development"),
		HTTPPort:     getEnv("WARDEN_HTTP_PORT", "8080"),
		DatabasePath: getEnv("WARDEN_DB_PATH", filepath.Join("data", "warden.db")),
		LogFile:      getEnv("WARDEN_LOG_FILE", ""),
		Debug:        getEnv("WARDEN_DEBUG", "false") == "true",
		JWTSecret:    getEnv("WARDEN_JWT_SECRET", ""),
		RulesFile:    getEnv("WARDEN_RULES_FILE", ""),
		Security:     sec,

		TrustedProxies: getList("WARDEN_TRUSTED_PROXIES", nil),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
