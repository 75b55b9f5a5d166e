package cerberus_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/cerberus"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
)

const secret = "cerberus-test-secret"

type nopAlerter struct{}

func (nopAlerter) Send(context.Context, string, string) error { return nil }

func setup(t *testing.T, cfg config.SecurityConfig) (*gin.Engine, *services.Suite, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := database.OpenTestDB(t)
	suite, err := services.NewSuite(db, cfg, nopAlerter{})
	require.NoError(t, err)

	gate := cerberus.New(cfg, suite)
	r := gin.New()
	r.Use(middleware.Identity(secret), gate.Middleware())
	r.GET("/api/items", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/api/security/blocks", middleware.RequireRole(models.RoleAdmin, gate.ReportDenied), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.NoRoute(gate.NotFound())
	return r, suite, db
}

func do(r *gin.Engine, ip, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":40000"
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, id uint, role, sessionIP string) func(*http.Request) {
	token, err := middleware.IssueToken(secret, id, role, sessionIP, time.Hour)
	require.NoError(t, err)
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func countEvents(t *testing.T, db *gorm.DB, attackType models.AttackType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.AttackEvent{}).Where("attack_type = ?", attackType).Count(&n).Error)
	return n
}

func TestIsEnabled(t *testing.T) {
	gate := cerberus.New(config.DefaultSecurityConfig(), nil)
	assert.False(t, gate.IsEnabled())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gate.Middleware())
	r.GET("/api/items", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.NoRoute(gate.NotFound())

	assert.Equal(t, http.StatusOK, do(r, "192.0.2.1", "/api/items?q=1;DROP").Code)
	assert.Equal(t, http.StatusNotFound, do(r, "192.0.2.1", "/nope").Code)
}

func TestMiddleware_BlockedIP(t *testing.T) {
	r, suite, _ := setup(t, config.DefaultSecurityConfig())
	_, err := suite.Mitigation.BlockIP(context.Background(), services.ManualBlock{IP: "192.0.2.10", Reason: "test"})
	require.NoError(t, err)

	w := do(r, "192.0.2.10", "/api/items")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"ip_blocked"`)

	assert.Equal(t, http.StatusOK, do(r, "192.0.2.11", "/api/items").Code)
}

func TestMiddleware_BreakGlassSkipsGate(t *testing.T) {
	r, suite, _ := setup(t, config.DefaultSecurityConfig())
	ctx := context.Background()
	_, err := suite.Mitigation.BlockIP(ctx, services.ManualBlock{IP: "192.0.2.20"})
	require.NoError(t, err)
	token, err := suite.Security.GenerateBreakGlassToken(ctx, services.DefaultSettingName)
	require.NoError(t, err)

	w := do(r, "192.0.2.20", "/api/items", func(req *http.Request) {
		req.Header.Set(cerberus.BreakGlassHeader, token)
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, "192.0.2.20", "/api/items", func(req *http.Request) {
		req.Header.Set(cerberus.BreakGlassHeader, "not-the-token")
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMiddleware_LockedAccount(t *testing.T) {
	r, suite, db := setup(t, config.DefaultSecurityConfig())
	ctx := context.Background()
	user, err := services.NewUserService(db).Ensure(ctx, &models.User{Username: "alice", Role: models.RoleOperator})
	require.NoError(t, err)
	_, err = suite.Mitigation.LockAccount(ctx, services.ManualLock{UserID: user.ID, Duration: time.Hour})
	require.NoError(t, err)

	w := do(r, "192.0.2.30", "/api/items", bearer(t, user.ID, models.RoleOperator, ""))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"account_locked"`)

	// anonymous requests from the same address are not affected
	assert.Equal(t, http.StatusOK, do(r, "192.0.2.30", "/api/items").Code)
}

func TestMiddleware_PrivilegeEscalation(t *testing.T) {
	r, _, db := setup(t, config.DefaultSecurityConfig())

	w := do(r, "192.0.2.40", "/api/security/blocks", bearer(t, 9, models.RoleOperator, ""))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackPrivilegeEscalation))
	assert.Zero(t, countEvents(t, db, models.AttackUnauthorizedAccess))

	w = do(r, "192.0.2.41", "/api/security/blocks", bearer(t, 1, models.RoleAdmin, ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReportDenied_Anonymous(t *testing.T) {
	r, _, db := setup(t, config.DefaultSecurityConfig())

	w := do(r, "192.0.2.50", "/api/security/blocks")
	assert.Equal(t, http.StatusForbidden, w.Code)

	var ev models.AttackEvent
	require.NoError(t, db.Where("attack_type = ?", models.AttackUnauthorizedAccess).First(&ev).Error)
	assert.Equal(t, "User role: guest, Required: admin", ev.Payload)
	assert.Equal(t, "192.0.2.50", ev.SourceIP)
}

func TestMiddleware_RateLimit(t *testing.T) {
	cfg := config.DefaultSecurityConfig()
	cfg.RequestRateThreshold = 3
	r, _, db := setup(t, cfg)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(r, "192.0.2.60", "/api/items").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(r, "192.0.2.60", "/api/items").Code)
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackRateLimitViolation))

	// other addresses have their own window
	assert.Equal(t, http.StatusOK, do(r, "192.0.2.61", "/api/items").Code)
}

func TestMiddleware_QueryInspection(t *testing.T) {
	r, _, db := setup(t, config.DefaultSecurityConfig())

	w := do(r, "192.0.2.70", "/api/items?q=1%20UNION%20SELECT%20password%20FROM%20users")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackSQLInjection))

	w = do(r, "192.0.2.70", "/api/items?name=%3Cscript%3Ealert(1)%3C/script%3E")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackXSSAttempt))

	w = do(r, "192.0.2.70", "/api/items?file=../../etc/passwd")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackPathTraversal))

	assert.Equal(t, http.StatusOK, do(r, "192.0.2.70", "/api/items?page=2&sort=name").Code)
}

func TestMiddleware_QueryInspectionDisabled(t *testing.T) {
	cfg := config.DefaultSecurityConfig()
	cfg.InspectQuery = false
	r, _, db := setup(t, cfg)

	assert.Equal(t, http.StatusOK, do(r, "192.0.2.71", "/api/items?q=1%20UNION%20SELECT%201").Code)
	assert.Zero(t, countEvents(t, db, models.AttackSQLInjection))
}

func TestMiddleware_PassiveDetectors(t *testing.T) {
	r, _, db := setup(t, config.DefaultSecurityConfig())

	w := do(r, "192.0.2.80", "/api/items", func(req *http.Request) {
		req.Header.Set("User-Agent", "sqlmap/1.7")
		req.AddCookie(&http.Cookie{Name: "warden_session", Value: "abc'def"})
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackSuspiciousActivity))
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackCookieManipulation))

	w = do(r, "192.0.2.81", "/api/items", bearer(t, 5, models.RoleOperator, "198.51.100.1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackSessionHijacking))
}

func TestNotFound_CountsProbes(t *testing.T) {
	cfg := config.DefaultSecurityConfig()
	cfg.NotFoundThreshold = 2
	r, _, db := setup(t, cfg)

	assert.Equal(t, http.StatusNotFound, do(r, "192.0.2.90", "/wp-admin").Code)
	assert.Zero(t, countEvents(t, db, models.AttackDirectoryBruteForce))
	assert.Equal(t, http.StatusNotFound, do(r, "192.0.2.90", "/.env").Code)
	assert.Equal(t, int64(1), countEvents(t, db, models.AttackDirectoryBruteForce))
}

func TestRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/items?a=1", nil)
	c.Request.RemoteAddr = "203.0.113.5:1234"
	c.Request.Header.Set("User-Agent", "curl/8.0")
	c.Set(middleware.UserIDKey, uint(4))
	c.Set(middleware.RoleKey, "operator")

	rc := cerberus.RequestContext(c)
	assert.Equal(t, "203.0.113.5", rc.IP)
	assert.Equal(t, "curl/8.0", rc.UserAgent)
	assert.Equal(t, http.MethodPost, rc.Method)
	assert.Equal(t, "/api/items", rc.Path)
	require.NotNil(t, rc.ActorID)
	assert.Equal(t, uint(4), *rc.ActorID)
	assert.Equal(t, "operator", rc.Role)
	assert.Equal(t, "1", rc.Query.Get("a"))
}
