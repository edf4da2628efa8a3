// Package api exposes the trust plane over HTTP: telemetry ingest, trust
// score queries and administration, risk assessment, change history, and the
// quarantine surface.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/pipeline"
	"github.com/sentinelmesh/trustplane/internal/telemetry"
)

// TelemetryHandler ingests device telemetry events.
type TelemetryHandler struct {
	processor *pipeline.Processor
	logger    *zap.Logger
}

// NewTelemetryHandler creates a TelemetryHandler.
func NewTelemetryHandler(processor *pipeline.Processor, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{processor: processor, logger: logger}
}

// Register mounts the telemetry routes on the given router group.
func (h *TelemetryHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/telemetry", h.Ingest)
}

// Ingest handles POST /telemetry. Unknown devices are enrolled at the
// baseline score before the event is evaluated.
func (h *TelemetryHandler) Ingest(c *gin.Context) {
	var ev telemetry.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		RecordTelemetryEvent(false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telemetry payload: " + err.Error()})
		return
	}
	if ev.DeviceID == "" {
		RecordTelemetryEvent(false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	result, err := h.processor.Process(c.Request.Context(), &ev)
	if err != nil {
		RecordTelemetryEvent(false)
		h.logger.Error("telemetry processing failed",
			zap.String("device_id", ev.DeviceID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process telemetry"})
		return
	}

	RecordTelemetryEvent(true)
	RecordTrustAdjustment(result.ScoreChange)
	c.JSON(http.StatusAccepted, result)
}
