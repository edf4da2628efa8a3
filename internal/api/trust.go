package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/ledger"
	"github.com/sentinelmesh/trustplane/internal/scoring"
)

// TrustHandler serves trust score queries and administrative score actions.
type TrustHandler struct {
	directory device.Directory
	engine    *scoring.Engine
	tokens    *TokenIssuer // nil = no auth enforcement on admin routes
	logger    *zap.Logger
}

// NewTrustHandler creates a TrustHandler. tokens may be nil to disable auth
// on the administrative routes (development/open mode).
func NewTrustHandler(directory device.Directory, engine *scoring.Engine, tokens *TokenIssuer, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{directory: directory, engine: engine, tokens: tokens, logger: logger}
}

// adminRequired returns the AdminRequired middleware when auth is configured,
// or a no-op middleware otherwise.
func (h *TrustHandler) adminRequired() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return AdminRequired(h.tokens)
}

// Register mounts the trust routes on the given router group.
func (h *TrustHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/devices", h.ListDevices)
	rg.GET("/devices/:id/trust", h.GetTrust)
	rg.GET("/devices/:id/trust/breakdown", h.GetBreakdown)
	rg.POST("/devices/:id/trust/reset", h.adminRequired(), h.ResetTrust)
	rg.POST("/trust/simulate", h.Simulate)
}

// ListDevices handles GET /devices.
func (h *TrustHandler) ListDevices(c *gin.Context) {
	devices, err := h.directory.List(c.Request.Context())
	if err != nil {
		h.logger.Error("device list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// GetTrust handles GET /devices/:id/trust.
func (h *TrustHandler) GetTrust(c *gin.Context) {
	d, err := h.directory.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("device lookup failed", zap.String("device_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up device"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetBreakdown handles GET /devices/:id/trust/breakdown. It returns the
// current score alongside the weight table so operators can see how each
// factor moves the needle.
func (h *TrustHandler) GetBreakdown(c *gin.Context) {
	d, err := h.directory.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("device lookup failed", zap.String("device_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id":       d.DeviceID,
		"trust_score":     d.TrustScore,
		"trusted":         d.Trusted,
		"trust_threshold": device.TrustThreshold,
		"weights":         h.engine.Weights(),
	})
}

type resetRequest struct {
	Baseline float64 `json:"baseline"`
	Actor    string  `json:"actor" binding:"required"`
}

// ResetTrust handles POST /devices/:id/trust/reset. The reset is always
// written to the ledger regardless of the size of the jump.
func (h *TrustHandler) ResetTrust(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}

	result, err := h.engine.Reset(c.Request.Context(), c.Param("id"), req.Baseline, req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		case errors.Is(err, scoring.ErrBaselineOutOfRange):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("trust reset failed", zap.String("device_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset trust score"})
		}
		return
	}

	h.logger.Info("trust score reset",
		zap.String("device_id", result.DeviceID),
		zap.Float64("baseline", req.Baseline),
		zap.String("actor", req.Actor))
	c.JSON(http.StatusOK, result)
}

type simulateRequest struct {
	CurrentScore float64        `json:"current_score"`
	Factors      ledger.Factors `json:"factors"`
}

// Simulate handles POST /trust/simulate: a pure what-if adjustment with no
// side effects on any device.
func (h *TrustHandler) Simulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid simulation payload: " + err.Error()})
		return
	}
	if req.CurrentScore < 0 || req.CurrentScore > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current_score must be between 0 and 100"})
		return
	}
	c.JSON(http.StatusOK, h.engine.Simulate(req.CurrentScore, req.Factors))
}
