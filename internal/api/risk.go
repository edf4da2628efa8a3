package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/risk"
)

// RiskHandler serves per-device risk assessments and the fleet overview.
type RiskHandler struct {
	assessor *risk.Assessor
	logger   *zap.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(assessor *risk.Assessor, logger *zap.Logger) *RiskHandler {
	return &RiskHandler{assessor: assessor, logger: logger}
}

// Register mounts the risk routes on the given router group.
func (h *RiskHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/devices/:id/risk", h.AssessDevice)
	rg.GET("/risk/overview", h.Overview)
}

// AssessDevice handles GET /devices/:id/risk.
func (h *RiskHandler) AssessDevice(c *gin.Context) {
	assessment, err := h.assessor.Assess(c.Request.Context(), c.Param("id"))
	if err != nil {
		if risk.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("risk assessment failed",
			zap.String("device_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assess device risk"})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// Overview handles GET /risk/overview.
func (h *RiskHandler) Overview(c *gin.Context) {
	overview, err := h.assessor.Overview(c.Request.Context())
	if err != nil {
		h.logger.Error("risk overview failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build risk overview"})
		return
	}
	c.JSON(http.StatusOK, overview)
}
