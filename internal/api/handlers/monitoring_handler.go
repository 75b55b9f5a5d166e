package handlers

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/warden/internal/detection"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
)

// MonitoringHandler serves the read side of the event history and the response rules.
type MonitoringHandler struct {
	events  *services.AttackEventService
	rules   *services.RuleService
	tracker *detection.ProbeTracker
}

func NewMonitoringHandler(events *services.AttackEventService, rules *services.RuleService, tracker *detection.ProbeTracker) *MonitoringHandler {
	return &MonitoringHandler{events: events, rules: rules, tracker: tracker}
}

// Stats handles GET /monitoring/stats
func (h *MonitoringHandler) Stats(c *gin.Context) {
	stats, err := h.events.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// List handles GET /monitoring/events?page=&per_page=
func (h *MonitoringHandler) List(c *gin.Context) {
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	perPage, ok := queryInt(c, "per_page", services.DefaultListLimit)
	if !ok {
		return
	}
	res, err := h.events.List(c.Request.Context(), page, perPage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ByType handles GET /monitoring/events/type/:type
func (h *MonitoringHandler) ByType(c *gin.Context) {
	t := models.AttackType(c.Param("type"))
	if !t.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown attack type"})
		return
	}
	limit, ok := queryInt(c, "limit", services.DefaultListLimit)
	if !ok {
		return
	}
	events, err := h.events.ByType(c.Request.Context(), t, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// HighRisk handles GET /monitoring/events/high-risk?threshold=
func (h *MonitoringHandler) HighRisk(c *gin.Context) {
	threshold, ok := queryInt(c, "threshold", services.HighRiskThreshold)
	if !ok {
		return
	}
	if threshold > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be between 0 and 100"})
		return
	}
	limit, ok := queryInt(c, "limit", services.DefaultListLimit)
	if !ok {
		return
	}
	events, err := h.events.HighRisk(c.Request.Context(), threshold, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// Actionable handles GET /monitoring/events/actionable
func (h *MonitoringHandler) Actionable(c *gin.Context) {
	limit, ok := queryInt(c, "limit", services.DefaultListLimit)
	if !ok {
		return
	}
	events, err := h.events.Actionable(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// Event handles GET /monitoring/events/:id and returns the event with its causal chain.
func (h *MonitoringHandler) Event(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	chain, err := h.events.Chain(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

// Rules handles GET /monitoring/rules
func (h *MonitoringHandler) Rules(c *gin.Context) {
	rules, err := h.rules.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// ToggleRule handles POST /api/security/rules/:id/toggle
func (h *MonitoringHandler) ToggleRule(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rule, err := h.rules.Toggle(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type thresholdRequest struct {
	Threshold int `json:"threshold" binding:"required"`
}

// UpdateThreshold handles PUT /api/security/rules/:id/threshold
func (h *MonitoringHandler) UpdateThreshold(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.rules.UpdateThreshold(c.Request.Context(), id, req.Threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Probes handles GET /monitoring/probes/:ip. It reports the in-memory 404 window for ip;
// the counts reset on restart.
func (h *MonitoringHandler) Probes(c *gin.Context) {
	parsed := net.ParseIP(c.Param("ip"))
	if parsed == nil {
		respondError(c, services.ErrInvalidIP)
		return
	}
	limits := h.tracker.Limits()
	c.JSON(http.StatusOK, gin.H{
		"ip":                       parsed.String(),
		"not_found":                h.tracker.NotFoundCount(parsed.String()),
		"not_found_threshold":      limits.NotFoundThreshold,
		"not_found_window_seconds": int(limits.NotFoundWindow.Seconds()),
		"tracked_keys":             h.tracker.Keys(),
	})
}
