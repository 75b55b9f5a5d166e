package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/services"
)

// SecurityActionsHandler exposes the operator commands over blocks, locks and actions.
type SecurityActionsHandler struct {
	mitigation *services.MitigationService
	security   *services.SecurityService
}

func NewSecurityActionsHandler(mitigation *services.MitigationService, security *services.SecurityService) *SecurityActionsHandler {
	return &SecurityActionsHandler{mitigation: mitigation, security: security}
}

func operator(c *gin.Context) *uint {
	id, _, _ := middleware.Actor(c)
	return id
}

// ListBlocks handles GET /api/security/blocks
func (h *SecurityActionsHandler) ListBlocks(c *gin.Context) {
	blocks, err := h.mitigation.ListActiveBlocks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, blocks)
}

// BlockHistory handles GET /api/security/blocks/:ip/history
func (h *SecurityActionsHandler) BlockHistory(c *gin.Context) {
	blocks, err := h.mitigation.BlockHistory(c.Request.Context(), c.Param("ip"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, blocks)
}

type blockRequest struct {
	IP              string `json:"ip"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
	AutoUnblock     bool   `json:"auto_unblock"`
	EventID         *uint  `json:"event_id"`
}

// BlockIP handles POST /api/security/blocks. A zero duration blocks permanently.
func (h *SecurityActionsHandler) BlockIP(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DurationMinutes < 0 {
		respondError(c, services.ErrInvalidDuration)
		return
	}
	action, err := h.mitigation.BlockIP(c.Request.Context(), services.ManualBlock{
		IP:          req.IP,
		Reason:      req.Reason,
		Duration:    time.Duration(req.DurationMinutes) * time.Minute,
		AutoUnblock: req.AutoUnblock,
		OperatorID:  operator(c),
		EventID:     req.EventID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

// UnblockIP handles DELETE /api/security/blocks/:ip
func (h *SecurityActionsHandler) UnblockIP(c *gin.Context) {
	action, err := h.mitigation.UnblockIP(c.Request.Context(), c.Param("ip"), operator(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// ListLocks handles GET /api/security/locks
func (h *SecurityActionsHandler) ListLocks(c *gin.Context) {
	locks, err := h.mitigation.ListLocks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, locks)
}

type lockRequest struct {
	UserID          uint   `json:"user_id"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
	EventID         *uint  `json:"event_id"`
}

// LockAccount handles POST /api/security/locks. A zero duration locks indefinitely.
func (h *SecurityActionsHandler) LockAccount(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DurationMinutes < 0 {
		respondError(c, services.ErrInvalidDuration)
		return
	}
	action, err := h.mitigation.LockAccount(c.Request.Context(), services.ManualLock{
		UserID:     req.UserID,
		Reason:     req.Reason,
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
		OperatorID: operator(c),
		EventID:    req.EventID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

// UnlockAccount handles DELETE /api/security/locks/:user_id
func (h *SecurityActionsHandler) UnlockAccount(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	action, err := h.mitigation.UnlockAccount(c.Request.Context(), userID, operator(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// ListActions handles GET /api/security/actions?limit=
func (h *SecurityActionsHandler) ListActions(c *gin.Context) {
	limit, ok := queryInt(c, "limit", services.DefaultListLimit)
	if !ok {
		return
	}
	actions, err := h.mitigation.ListActions(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// GetAction handles GET /api/security/actions/:id
func (h *SecurityActionsHandler) GetAction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	action, err := h.mitigation.GetAction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// ReverseAction handles POST /api/security/actions/:id/reverse
func (h *SecurityActionsHandler) ReverseAction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	action, err := h.mitigation.ReverseAction(c.Request.Context(), id, operator(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// GenerateBreakGlass handles POST /api/security/break-glass. The plaintext token is only
// ever returned here.
func (h *SecurityActionsHandler) GenerateBreakGlass(c *gin.Context) {
	token, err := h.security.GenerateBreakGlassToken(c.Request.Context(), services.DefaultSettingName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token})
}

// RevokeBreakGlass handles DELETE /api/security/break-glass
func (h *SecurityActionsHandler) RevokeBreakGlass(c *gin.Context) {
	if err := h.security.RevokeBreakGlassToken(c.Request.Context(), services.DefaultSettingName); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "break-glass token revoked"})
}
