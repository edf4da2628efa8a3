package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/quarantine"
)

const defaultEventLimit = 100

// QuarantineHandler serves the quarantine surface: the quarantined set,
// per-device lifecycle events, and manual quarantine actions.
type QuarantineHandler struct {
	manager *quarantine.Manager
	tokens  *TokenIssuer // nil = no auth enforcement on admin routes
	logger  *zap.Logger
}

// NewQuarantineHandler creates a QuarantineHandler. tokens may be nil to
// disable auth on the manual quarantine/release routes.
func NewQuarantineHandler(manager *quarantine.Manager, tokens *TokenIssuer, logger *zap.Logger) *QuarantineHandler {
	return &QuarantineHandler{manager: manager, tokens: tokens, logger: logger}
}

func (h *QuarantineHandler) adminRequired() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return AdminRequired(h.tokens)
}

// Register mounts the quarantine routes on the given router group.
func (h *QuarantineHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/quarantine", h.ListQuarantined)
	rg.GET("/devices/:id/quarantine/events", h.ListEvents)
	rg.POST("/devices/:id/quarantine", h.adminRequired(), h.QuarantineDevice)
	rg.POST("/devices/:id/quarantine/release", h.adminRequired(), h.ReleaseDevice)
}

// ListQuarantined handles GET /quarantine.
func (h *QuarantineHandler) ListQuarantined(c *gin.Context) {
	devices, err := h.manager.Quarantined(c.Request.Context())
	if err != nil {
		h.logger.Error("quarantine list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list quarantined devices"})
		return
	}
	SetQuarantinedDevices(float64(len(devices)))
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// ListEvents handles GET /devices/:id/quarantine/events?limit=N, newest first.
func (h *QuarantineHandler) ListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 1000"})
			return
		}
		limit = n
	}

	events, err := h.manager.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("quarantine event lookup failed",
			zap.String("device_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load quarantine events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": c.Param("id"), "count": len(events), "events": events})
}

type quarantineRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// QuarantineDevice handles POST /devices/:id/quarantine: a manual operator
// quarantine outside the automatic score-driven path.
func (h *QuarantineHandler) QuarantineDevice(c *gin.Context) {
	var req quarantineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	event, err := h.manager.Quarantine(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("manual quarantine failed",
			zap.String("device_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to quarantine device"})
		return
	}

	status := http.StatusOK
	if event.Status == quarantine.StatusAlreadyQuarantined {
		status = http.StatusConflict
	}
	c.JSON(status, event)
}

// ReleaseDevice handles POST /devices/:id/quarantine/release. Release is
// refused while the device's score is still below the trust threshold.
func (h *QuarantineHandler) ReleaseDevice(c *gin.Context) {
	event, err := h.manager.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, device.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		case errors.Is(err, quarantine.ErrScoreBelowThreshold):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("quarantine release failed",
				zap.String("device_id", c.Param("id")),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to release device"})
		}
		return
	}
	if event == nil {
		// Not quarantined; nothing to do.
		c.JSON(http.StatusOK, gin.H{"device_id": c.Param("id"), "released": false})
		return
	}
	c.JSON(http.StatusOK, event)
}
