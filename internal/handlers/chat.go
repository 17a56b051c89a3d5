package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"
	"github.com/voyago/tripgate/internal/admission"
	"github.com/voyago/tripgate/internal/pathguard"
	"github.com/voyago/tripgate/internal/upstream"
)

// maxBodyBytes caps the request body well above the validated input limit.
const maxBodyBytes = 64 * 1024

// ChatHandler runs the admission pipeline and, for admitted turns, calls
// the planning backend.
type ChatHandler struct {
	pipeline *admission.Pipeline
	planner  upstream.Planner
	usage    upstream.UsageRecorder
}

// NewChatHandler creates a chat handler.
func NewChatHandler(pipeline *admission.Pipeline, planner upstream.Planner) *ChatHandler {
	return &ChatHandler{pipeline: pipeline, planner: planner}
}

// SetUsageRecorder attaches an optional usage-accounting service. Counters
// it returns overwrite the local quota view.
func (h *ChatHandler) SetUsageRecorder(usage upstream.UsageRecorder) {
	h.usage = usage
}

// ClientID resolves the caller identity: the stable client header first,
// then the forwarded IP.
func ClientID(c *gin.Context) string {
	if id := c.GetHeader("X-Client-Id"); id != "" {
		return id
	}
	return pathguard.CallerIP(c.Request.Header)
}

// HandleChat processes one conversation turn
// POST /api/chat
func (h *ChatHandler) HandleChat(c *gin.Context) {
	clientID := ClientID(c)
	callerIP := pathguard.CallerIP(c.Request.Header)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Could not read request",
			"error":   admission.CodeInvalidInput,
		})
		return
	}

	decision := h.pipeline.Admit(clientID, callerIP, body)
	if !decision.Admitted {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": decision.Message,
			"error":   decision.Code,
		})
		return
	}

	reply, err := h.planner.Plan(c.Request.Context(), clientID, decision.Turn)
	if err != nil {
		// Raw upstream detail stays in the server log, never in the reply.
		log.Printf("⚠️ [Chat] Upstream failure for %s: %v", clientID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": "Service temporarily unavailable, please try again later",
			"error":   "upstream_error",
		})
		return
	}

	tracker := h.pipeline.Quotas().Tracker(clientID)
	if reply.TokensUsed > 0 {
		tracker.RecordTokenUsage(reply.TokensUsed)
	}

	if h.usage != nil {
		counters, err := h.usage.RecordUsage(c.Request.Context(), clientID, reply.TokensUsed)
		if err != nil {
			log.Printf("⚠️ [Chat] Usage report failed for %s: %v", clientID, err)
		} else if counters != nil {
			tracker.ApplyServerUpdate(*counters)
		}
	}

	snap := tracker.Snapshot()

	// Inject the fresh quota view into the reply document.
	resp, _ := json.Marshal(gin.H{
		"success": true,
		"message": reply.Message,
	})
	resp, err = sjson.SetBytes(resp, "quota", snap)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": reply.Message, "quota": snap})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", resp)
}
