package handlers

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/warden/internal/cerberus"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
)

// IngestHandler lets the host application report what it saw on its own requests:
// failed logins, attacks it detected, and values or uploads it wants checked. It also
// answers whether a client may proceed at all.
type IngestHandler struct {
	monitor    *services.MonitorService
	mitigation *services.MitigationService
}

func NewIngestHandler(monitor *services.MonitorService, mitigation *services.MitigationService) *IngestHandler {
	return &IngestHandler{monitor: monitor, mitigation: mitigation}
}

// clientInfo describes the end client of the reported request. Empty fields fall back to
// the reporting request itself.
type clientInfo struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	ActorID   *uint  `json:"actor_id"`
	Role      string `json:"role"`
	SessionIP string `json:"session_ip"`
}

func requestContext(c *gin.Context, client *clientInfo) services.RequestContext {
	rc := cerberus.RequestContext(c)
	if client == nil {
		return rc
	}
	// identity of the reporter never leaks into the reported request
	rc.ActorID, rc.Role, rc.SessionIP = client.ActorID, client.Role, client.SessionIP
	if client.IP != "" {
		rc.IP = client.IP
	}
	if client.UserAgent != "" {
		rc.UserAgent = client.UserAgent
	}
	if client.Method != "" {
		rc.Method = client.Method
	}
	if client.Path != "" {
		rc.Path = client.Path
	}
	rc.Query = nil
	return rc
}

type attackRequest struct {
	Client            *clientInfo              `json:"client"`
	AttackType        models.AttackType        `json:"attack_type" binding:"required"`
	Endpoint          string                   `json:"endpoint"`
	Payload           string                   `json:"payload"`
	Severity          models.Severity          `json:"severity"`
	Blocked           bool                     `json:"blocked"`
	Details           string                   `json:"details"`
	RelatedEventID    *uint                    `json:"related_event_id"`
	ResponseStatus    *int                     `json:"response_status"`
	RecommendedAction models.RecommendedAction `json:"recommended_action"`
	RiskScore         *int                     `json:"risk_score"`
}

// RecordAttack handles POST /internal/ingest/attacks
func (h *IngestHandler) RecordAttack(c *gin.Context) {
	var req attackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.monitor.RecordAttack(c.Request.Context(), requestContext(c, req.Client), services.AttackReport{
		Type:              req.AttackType,
		Endpoint:          req.Endpoint,
		Payload:           req.Payload,
		Severity:          req.Severity,
		Blocked:           req.Blocked,
		Details:           req.Details,
		RelatedEventID:    req.RelatedEventID,
		ResponseStatus:    req.ResponseStatus,
		RecommendedAction: req.RecommendedAction,
		RiskScore:         req.RiskScore,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type failedLoginRequest struct {
	Client   *clientInfo `json:"client"`
	Username string      `json:"username"`
}

// FailedLogin handles POST /internal/ingest/failed-logins
func (h *IngestHandler) FailedLogin(c *gin.Context) {
	var req failedLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.monitor.RecordFailedLogin(c.Request.Context(), requestContext(c, req.Client), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type unauthorizedRequest struct {
	Client       *clientInfo `json:"client"`
	RequiredRole string      `json:"required_role" binding:"required"`
}

// Unauthorized handles POST /internal/ingest/unauthorized
func (h *IngestHandler) Unauthorized(c *gin.Context) {
	var req unauthorizedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.monitor.ReportUnauthorized(c.Request.Context(), requestContext(c, req.Client), req.RequiredRole)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type checkValueRequest struct {
	Client   *clientInfo `json:"client"`
	Field    string      `json:"field"`
	Value    string      `json:"value"`
	Endpoint string      `json:"endpoint"`
}

// CheckValue handles POST /internal/ingest/check. Every detector runs; each hit is recorded.
func (h *IngestHandler) CheckValue(c *gin.Context) {
	var req checkValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	rc := requestContext(c, req.Client)
	sqli := h.monitor.CheckSQLInjection(ctx, rc, req.Value, req.Endpoint)
	xss := h.monitor.CheckXSS(ctx, rc, req.Field, req.Value, req.Endpoint)
	traversal := h.monitor.CheckPathTraversal(ctx, rc, req.Value, req.Endpoint)
	c.JSON(http.StatusOK, gin.H{
		"detected":       sqli || xss || traversal,
		"sql_injection":  sqli,
		"xss":            xss,
		"path_traversal": traversal,
	})
}

type checkUploadRequest struct {
	Client      *clientInfo `json:"client"`
	Filename    string      `json:"filename" binding:"required"`
	ContentType string      `json:"content_type"`
	Size        int64       `json:"size"`
	Endpoint    string      `json:"endpoint"`
}

// CheckUpload handles POST /internal/ingest/upload
func (h *IngestHandler) CheckUpload(c *gin.Context) {
	var req checkUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issues := h.monitor.CheckFileUpload(c.Request.Context(), requestContext(c, req.Client), req.Filename, req.ContentType, req.Size, req.Endpoint)
	if issues == nil {
		issues = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"detected": len(issues) > 0, "issues": issues})
}

type accessRequest struct {
	Client clientInfo `json:"client"`
}

// CheckAccess handles POST /internal/ingest/access. The host calls it before handling a
// request; only the client's ip and actor_id are consulted.
func (h *IngestHandler) CheckAccess(c *gin.Context) {
	var req accessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ip := req.Client.IP
	if ip != "" {
		parsed := net.ParseIP(ip)
		if parsed == nil {
			respondError(c, services.ErrInvalidIP)
			return
		}
		ip = parsed.String()
	}
	if ip == "" && req.Client.ActorID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client ip or actor_id is required"})
		return
	}

	denial, err := h.mitigation.CheckAccess(c.Request.Context(), ip, req.Client.ActorID)
	if err != nil {
		respondError(c, err)
		return
	}
	if denial == nil {
		c.JSON(http.StatusOK, gin.H{"allowed": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed": false,
		"reason":  denial.Reason,
		"message": denial.Message,
		"until":   denial.Until,
	})
}
