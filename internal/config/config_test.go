package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WARDEN_DB_PATH", filepath.Join(t.TempDir(), "data", "warden.db"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.False(t, cfg.Debug)
	assert.Equal(t, []string{"/admin", "/monitoring", "/api/security", "/upload"}, cfg.Security.AdminPrefixes)
	assert.Equal(t, []string{"/api/"}, cfg.Security.RateLimitPrefixes)
	assert.Empty(t, cfg.Security.AlertURLs)
	assert.Equal(t, 7*24*time.Hour, cfg.Security.FailedLoginRetention)
	assert.Equal(t, "@every 1m", cfg.Security.ExpirySchedule)
	assert.Equal(t, "warden_session", cfg.Security.SessionCookie)
	assert.True(t, cfg.Security.InspectQuery)
	assert.Nil(t, cfg.TrustedProxies, "no proxy is trusted by default")
	assert.DirExists(t, filepath.Dir(cfg.DatabasePath))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WARDEN_DB_PATH", filepath.Join(t.TempDir(), "w.db"))
	t.Setenv("WARDEN_HTTP_PORT", "9090")
	t.Setenv("WARDEN_DEBUG", "true")
	t.Setenv("WARDEN_ADMIN_PREFIXES", " /ops , /root,, ")
	t.Setenv("WARDEN_ALERT_URLS", "generic://example.com/hook")
	t.Setenv("WARDEN_FAILED_LOGIN_RETENTION_DAYS", "3")
	t.Setenv("WARDEN_INSPECT_QUERY", "false")
	t.Setenv("WARDEN_TRUSTED_PROXIES", "10.0.0.1, 172.16.0.0/12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"/ops", "/root"}, cfg.Security.AdminPrefixes)
	assert.Equal(t, []string{"generic://example.com/hook"}, cfg.Security.AlertURLs)
	assert.Equal(t, 72*time.Hour, cfg.Security.FailedLoginRetention)
	assert.False(t, cfg.Security.InspectQuery)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.TrustedProxies)
}

func TestLoad_InvalidRetention(t *testing.T) {
	t.Setenv("WARDEN_DB_PATH", filepath.Join(t.TempDir(), "w.db"))
	t.Setenv("WARDEN_FAILED_LOGIN_RETENTION_DAYS", "soon")

	_, err := Load()
	assert.Error(t, err)
}
