package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/services"
)

type nopAlerter struct{}

func (nopAlerter) Send(context.Context, string, string) error { return nil }

func newServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	srv, _ := newServerWithSuite(t, cfg)
	return srv
}

func newServerWithSuite(t *testing.T, cfg config.Config) (*Server, *services.Suite) {
	t.Helper()
	suite, err := services.NewSuite(database.OpenTestDB(t), cfg.Security, nopAlerter{})
	require.NoError(t, err)
	srv, err := New(suite, cfg)
	require.NoError(t, err)
	return srv, suite
}

func TestNew_MiddlewareChain(t *testing.T) {
	srv := newServer(t, config.Config{Environment: "production", JWTSecret: "s", Security: config.DefaultSecurityConfig()})
	gin.SetMode(gin.TestMode)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestNew_RequiresSuite(t *testing.T) {
	_, err := New(nil, config.Config{})
	assert.Error(t, err)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv := newServer(t, config.Config{HTTPPort: "0", Security: config.DefaultSecurityConfig()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNew_ClientIPIgnoresForwardedHeaders(t *testing.T) {
	const blocked = "198.51.100.7"

	tests := []struct {
		name    string
		proxies []string
		remote  string
		xff     string
		code    int
	}{
		{"blocked client", nil, blocked, "", http.StatusForbidden},
		{"blocked client spoofs forwarded-for", nil, blocked, "203.0.113.50", http.StatusForbidden},
		{"clean client cannot frame the blocked ip", nil, "192.0.2.10", blocked, http.StatusOK},
		{"trusted proxy forwards the blocked client", []string{"10.0.0.1"}, "10.0.0.1", blocked, http.StatusForbidden},
		{"untrusted proxy is not believed", []string{"10.0.0.1"}, "10.0.0.2", blocked, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, suite := newServerWithSuite(t, config.Config{
				Environment:    "production",
				TrustedProxies: tt.proxies,
				Security:       config.DefaultSecurityConfig(),
			})
			_, err := suite.Mitigation.BlockIP(context.Background(), services.ManualBlock{IP: blocked, Reason: "scanner"})
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.RemoteAddr = tt.remote + ":40000"
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			w := httptest.NewRecorder()
			srv.Engine.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestNew_RejectsInvalidTrustedProxy(t *testing.T) {
	suite, err := services.NewSuite(database.OpenTestDB(t), config.DefaultSecurityConfig(), nopAlerter{})
	require.NoError(t, err)
	_, err = New(suite, config.Config{TrustedProxies: []string{"not-an-ip"}, Security: config.DefaultSecurityConfig()})
	assert.Error(t, err)
}
