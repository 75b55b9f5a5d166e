package cerberus

import (
	"maps"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/detection"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/services"
	"github.com/Wikid82/warden/internal/util"
)

// BreakGlassHeader carries the operator's break-glass token.
const BreakGlassHeader = "X-Warden-Break-Glass"

// Cerberus is the request gate in front of the host application: it enforces active
// blocks and locks and runs the request-level detectors.
type Cerberus struct {
	cfg        config.SecurityConfig
	monitor    *services.MonitorService
	mitigation *services.MitigationService
	security   *services.SecurityService
}

// New creates a gate over the wired security suite. A nil suite yields a gate that lets
// everything through.
func New(cfg config.SecurityConfig, suite *services.Suite) *Cerberus {
	c := &Cerberus{cfg: cfg}
	if suite != nil {
		c.monitor = suite.Monitor
		c.mitigation = suite.Mitigation
		c.security = suite.Security
	}
	return c
}

// IsEnabled reports whether the gate has a monitor and mitigation service to work with.
func (c *Cerberus) IsEnabled() bool {
	return c != nil && c.monitor != nil && c.mitigation != nil
}

// RequestContext builds the detector input from a gin request.
func RequestContext(ctx *gin.Context) services.RequestContext {
	id, role, sessionIP := middleware.Actor(ctx)
	return services.RequestContext{
		IP:        ctx.ClientIP(),
		UserAgent: ctx.Request.UserAgent(),
		Method:    ctx.Request.Method,
		Path:      ctx.Request.URL.Path,
		ActorID:   id,
		Role:      role,
		SessionIP: sessionIP,
		Headers:   ctx.Request.Header,
		Query:     ctx.Request.URL.Query(),
	}
}

func gateLog(ctx *gin.Context, rc services.RequestContext) *logrus.Entry {
	return middleware.GetRequestLogger(ctx).WithFields(logrus.Fields{
		"source": "cerberus",
		"ip":     util.SanitizeForLog(rc.IP),
		"path":   middleware.SanitizePath(rc.Path),
	})
}

func (c *Cerberus) breakGlass(ctx *gin.Context, rc services.RequestContext) bool {
	token := ctx.GetHeader(BreakGlassHeader)
	if token == "" || c.security == nil {
		return false
	}
	ok, err := c.security.VerifyBreakGlassToken(ctx.Request.Context(), services.DefaultSettingName, token)
	if err != nil || !ok {
		gateLog(ctx, rc).WithError(err).Warn("break-glass token rejected")
		return false
	}
	gateLog(ctx, rc).Warn("break-glass token accepted, gate skipped")
	return true
}

func (c *Cerberus) deny(ctx *gin.Context, rc services.RequestContext, status int, reason string, body gin.H) {
	metrics.IncGateDenied(reason)
	gateLog(ctx, rc).WithField("decision", reason).Warn("request denied")
	ctx.AbortWithStatusJSON(status, body)
}

// inspectQuery runs the injection detectors over every query value in key order and
// stops at the first hit.
func (c *Cerberus) inspectQuery(ctx *gin.Context, rc services.RequestContext) bool {
	reqCtx := ctx.Request.Context()
	if c.monitor.CheckPathTraversal(reqCtx, rc, rc.Path, "") {
		return true
	}
	for _, key := range slices.Sorted(maps.Keys(rc.Query)) {
		for _, v := range rc.Query[key] {
			if c.monitor.CheckSQLInjection(reqCtx, rc, v, "") ||
				c.monitor.CheckXSS(reqCtx, rc, key, v, "") ||
				c.monitor.CheckPathTraversal(reqCtx, rc, v, "") {
				return true
			}
		}
	}
	return false
}

// Middleware returns a Gin middleware that enforces blocks and locks, then runs the
// request-level detectors. Storage failures never reject a request.
func (c *Cerberus) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !c.IsEnabled() {
			ctx.Next()
			return
		}

		rc := RequestContext(ctx)
		if c.breakGlass(ctx, rc) {
			ctx.Next()
			return
		}
		reqCtx := ctx.Request.Context()

		denial, err := c.mitigation.CheckAccess(reqCtx, rc.IP, rc.ActorID)
		if err != nil {
			gateLog(ctx, rc).WithError(err).Error("access check failed, allowing request")
		} else if denial != nil {
			c.deny(ctx, rc, http.StatusForbidden, string(denial.Reason), gin.H{
				"error":  denial.Message,
				"reason": denial.Reason,
				"until":  denial.Until,
			})
			return
		}

		c.monitor.CheckSuspiciousAgent(reqCtx, rc)
		if c.cfg.SessionCookie != "" {
			if value, err := ctx.Cookie(c.cfg.SessionCookie); err == nil {
				c.monitor.CheckCookie(reqCtx, rc, value)
			}
		}
		c.monitor.CheckSessionAnomaly(reqCtx, rc)

		if c.monitor.CheckPrivilegeEscalation(reqCtx, rc) {
			c.deny(ctx, rc, http.StatusForbidden, "privilege_escalation", gin.H{"error": "Forbidden"})
			return
		}

		if detection.MatchesPrefix(rc.Path, c.cfg.RateLimitPrefixes) && c.monitor.ObserveRequestRate(reqCtx, rc) {
			c.deny(ctx, rc, http.StatusTooManyRequests, "rate_limited", gin.H{"error": "Too many requests"})
			return
		}

		if c.cfg.InspectQuery && c.inspectQuery(ctx, rc) {
			c.deny(ctx, rc, http.StatusBadRequest, "suspicious_payload", gin.H{"error": "Suspicious payload detected"})
			return
		}

		ctx.Next()
	}
}

// NotFound answers unmatched routes and counts them toward directory probing.
func (c *Cerberus) NotFound() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c.IsEnabled() {
			c.monitor.ObserveNotFound(ctx.Request.Context(), RequestContext(ctx))
		}
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	}
}

// ReportDenied records a request RequireRole turned away.
func (c *Cerberus) ReportDenied(ctx *gin.Context, requiredRole string) {
	if !c.IsEnabled() {
		return
	}
	rc := RequestContext(ctx)
	if _, err := c.monitor.ReportUnauthorized(ctx.Request.Context(), rc, requiredRole); err != nil {
		gateLog(ctx, rc).WithError(err).Error("failed to record unauthorized access")
	}
}
