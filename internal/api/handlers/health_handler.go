package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/version"
)

const healthPingTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports build metadata and whether the event store is reachable.
type HealthHandler struct {
	store Pinger
}

func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// Health answers 200 when the event store responds and 503 otherwise. The gate fails
// open on storage errors, so a 503 here means blocks are not being enforced.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":   "ok",
		"service":  version.Name,
		"version":  version.Full(),
		"database": "ok",
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("health check: event store unreachable")
		body["status"] = "degraded"
		body["database"] = "unreachable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
