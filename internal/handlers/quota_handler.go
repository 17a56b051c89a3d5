package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/voyago/tripgate/internal/quota"
)

// QuotaHandler exposes the per-client quota view and its update paths
type QuotaHandler struct {
	quotas *quota.Manager
}

// NewQuotaHandler creates a new quota handler
func NewQuotaHandler(quotas *quota.Manager) *QuotaHandler {
	return &QuotaHandler{quotas: quotas}
}

// GetQuota returns the caller's current quota snapshot
// GET /api/quota
func (h *QuotaHandler) GetQuota(c *gin.Context) {
	tracker := h.quotas.Tracker(ClientID(c))
	c.JSON(http.StatusOK, gin.H{
		"quota":       tracker.Snapshot(),
		"lastSession": tracker.LastSession(),
	})
}

// RecordUsage accepts the running token total from an in-flight response
// stream. The tracker keeps the maximum, so replayed or out-of-order
// updates are harmless.
// POST /api/quota/usage
func (h *QuotaHandler) RecordUsage(c *gin.Context) {
	var req struct {
		TokensUsed int `json:"tokensUsed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TokensUsed < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tokensUsed must be a non-negative integer"})
		return
	}

	tracker := h.quotas.Tracker(ClientID(c))
	tracker.RecordTokenUsage(req.TokensUsed)
	c.JSON(http.StatusOK, gin.H{"quota": tracker.Snapshot()})
}

// SyncServerCounters applies authoritative counters from the usage
// service. Server numbers always replace the local view.
// POST /api/quota/sync
func (h *QuotaHandler) SyncServerCounters(c *gin.Context) {
	var counters quota.ServerCounters
	if err := c.ShouldBindJSON(&counters); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid counters payload"})
		return
	}

	tracker := h.quotas.Tracker(ClientID(c))
	tracker.ApplyServerUpdate(counters)
	c.JSON(http.StatusOK, gin.H{"quota": tracker.Snapshot()})
}

// ResetQuota clears a client's persisted counters. Operator use only.
// POST /admin/quota/:clientId/reset
func (h *QuotaHandler) ResetQuota(c *gin.Context) {
	clientID := c.Param("clientId")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing client id"})
		return
	}

	tracker := h.quotas.Tracker(clientID)
	tracker.Reset()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"quota":   tracker.Snapshot(),
	})
}
