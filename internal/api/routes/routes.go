package routes

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wikid82/warden/internal/api/handlers"
	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/cerberus"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
)

// Register installs the identity reader and the Cerberus gate on router, then wires the
// admin, ingest and health routes.
func Register(router *gin.Engine, suite *services.Suite, cfg config.Config) error {
	if suite == nil {
		return errors.New("security suite is required")
	}
	if cfg.JWTSecret == "" {
		logger.Log().Warn("WARDEN_JWT_SECRET is not set: every caller is anonymous and the admin API is unreachable")
	}

	gate := cerberus.New(cfg.Security, suite)
	router.Use(middleware.Identity(cfg.JWTSecret), gate.Middleware())

	router.GET("/health", handlers.NewHealthHandler(suite).Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAdmin := middleware.RequireRole(models.RoleAdmin, gate.ReportDenied)

	monitoring := handlers.NewMonitoringHandler(suite.Events, suite.Rules, suite.Monitor.Tracker())
	mon := router.Group("/monitoring", requireAdmin)
	mon.GET("/stats", monitoring.Stats)
	mon.GET("/events", monitoring.List)
	mon.GET("/events/type/:type", monitoring.ByType)
	mon.GET("/events/high-risk", monitoring.HighRisk)
	mon.GET("/events/actionable", monitoring.Actionable)
	mon.GET("/events/:id", monitoring.Event)
	mon.GET("/rules", monitoring.Rules)
	mon.GET("/probes/:ip", monitoring.Probes)

	actions := handlers.NewSecurityActionsHandler(suite.Mitigation, suite.Security)
	sec := router.Group("/api/security", requireAdmin)
	sec.GET("/blocks", actions.ListBlocks)
	sec.POST("/blocks", actions.BlockIP)
	sec.GET("/blocks/:ip/history", actions.BlockHistory)
	sec.DELETE("/blocks/:ip", actions.UnblockIP)
	sec.GET("/locks", actions.ListLocks)
	sec.POST("/locks", actions.LockAccount)
	sec.DELETE("/locks/:user_id", actions.UnlockAccount)
	sec.GET("/actions", actions.ListActions)
	sec.GET("/actions/:id", actions.GetAction)
	sec.POST("/actions/:id/reverse", actions.ReverseAction)
	sec.POST("/rules/:id/toggle", monitoring.ToggleRule)
	sec.PUT("/rules/:id/threshold", monitoring.UpdateThreshold)
	sec.POST("/break-glass", actions.GenerateBreakGlass)
	sec.DELETE("/break-glass", actions.RevokeBreakGlass)

	ingest := handlers.NewIngestHandler(suite.Monitor, suite.Mitigation)
	in := router.Group("/internal/ingest", requireAdmin)
	in.POST("/attacks", ingest.RecordAttack)
	in.POST("/failed-logins", ingest.FailedLogin)
	in.POST("/unauthorized", ingest.Unauthorized)
	in.POST("/check", ingest.CheckValue)
	in.POST("/upload", ingest.CheckUpload)
	in.POST("/access", ingest.CheckAccess)

	router.NoRoute(gate.NotFound())
	return nil
}
