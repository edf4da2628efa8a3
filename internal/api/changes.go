package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/ledger"
)

const (
	defaultChangeWindowDays    = 7
	defaultAnalysisWindowHours = 24
	maxChangeWindowDays        = 90
)

// ChangesHandler serves the trust change ledger: per-device timelines,
// window analysis, and retention purges.
type ChangesHandler struct {
	store    ledger.Store
	analyzer *ledger.Analyzer
	tokens   *TokenIssuer // nil = no auth enforcement on admin routes
	logger   *zap.Logger
}

// NewChangesHandler creates a ChangesHandler. tokens may be nil to disable
// auth on the purge route.
func NewChangesHandler(store ledger.Store, analyzer *ledger.Analyzer, tokens *TokenIssuer, logger *zap.Logger) *ChangesHandler {
	return &ChangesHandler{store: store, analyzer: analyzer, tokens: tokens, logger: logger}
}

func (h *ChangesHandler) adminRequired() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return AdminRequired(h.tokens)
}

// Register mounts the ledger routes on the given router group.
func (h *ChangesHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/devices/:id/changes", h.ListChanges)
	rg.GET("/devices/:id/changes/analysis", h.AnalyzeChanges)
	rg.POST("/ledger/purge", h.adminRequired(), h.Purge)
}

// ListChanges handles GET /devices/:id/changes?days=N. Records come back
// newest first. An unknown device yields an empty timeline, not a 404: the
// ledger outlives directory entries.
func (h *ChangesHandler) ListChanges(c *gin.Context) {
	days := defaultChangeWindowDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxChangeWindowDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer between 1 and 90"})
			return
		}
		days = n
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	records, err := h.store.ChangesSince(c.Request.Context(), c.Param("id"), cutoff)
	if err != nil {
		h.logger.Error("change history lookup failed",
			zap.String("device_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load change history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": c.Param("id"),
		"days":      days,
		"count":     len(records),
		"changes":   records,
	})
}

// AnalyzeChanges handles GET /devices/:id/changes/analysis?hours=N.
func (h *ChangesHandler) AnalyzeChanges(c *gin.Context) {
	hours := defaultAnalysisWindowHours
	if raw := c.Query("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 24*maxChangeWindowDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = n
	}

	analysis, err := h.analyzer.AnalyzeChanges(c.Request.Context(), c.Param("id"), hours)
	if err != nil {
		h.logger.Error("change analysis failed",
			zap.String("device_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to analyze change history"})
		return
	}
	c.JSON(http.StatusOK, analysis)
}

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days" binding:"required,min=1"`
}

// Purge handles POST /ledger/purge: deletes records older than the requested
// retention horizon and reports how many went.
func (h *ChangesHandler) Purge(c *gin.Context) {
	var req purgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_days must be a positive integer"})
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -req.OlderThanDays)
	purged, err := h.store.PurgeBefore(c.Request.Context(), cutoff)
	if err != nil {
		h.logger.Error("ledger purge failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to purge ledger"})
		return
	}

	h.logger.Info("ledger purged",
		zap.Int("older_than_days", req.OlderThanDays),
		zap.Int64("purged", purged),
		zap.String("operator", c.GetString("operator")))
	c.JSON(http.StatusOK, gin.H{"purged": purged, "cutoff": cutoff})
}
