package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voyago/tripgate/internal/config"
	"github.com/voyago/tripgate/internal/securitylog"
)

// SecurityConfigHandler exposes the admin surface for the admission policy
type SecurityConfigHandler struct {
	manager  *config.SecurityManager
	recorder *securitylog.Recorder
}

// NewSecurityConfigHandler creates a new security config handler
func NewSecurityConfigHandler(manager *config.SecurityManager, recorder *securitylog.Recorder) *SecurityConfigHandler {
	return &SecurityConfigHandler{manager: manager, recorder: recorder}
}

// GetConfig returns the current admission policy
// GET /admin/security/config
func (h *SecurityConfigHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.GetConfig())
}

// UpdateConfig replaces the admission policy. The new policy is validated,
// persisted, and pushed to the live components via the change callback.
// PUT /admin/security/config
func (h *SecurityConfigHandler) UpdateConfig(c *gin.Context) {
	var cfg config.SecurityConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config payload"})
		return
	}

	if err := h.manager.UpdateConfig(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"config":  h.manager.GetConfig(),
	})
}

// GetEvents returns recent security events, newest first
// GET /admin/security/events?limit=N
func (h *SecurityConfigHandler) GetEvents(c *gin.Context) {
	if h.recorder == nil {
		c.JSON(http.StatusOK, gin.H{"events": []securitylog.Event{}})
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := h.recorder.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load events"})
		return
	}

	counts, err := h.recorder.CountBySeverity()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load event counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events":     events,
		"bySeverity": counts,
	})
}
