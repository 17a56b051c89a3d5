// Package upstream wraps the AI planning service behind a narrow interface
// so the admission pipeline can be tested without a live backend.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/voyago/tripgate/internal/quota"
	"github.com/voyago/tripgate/internal/validation"
)

// Reply is a generated planning response plus its token cost.
type Reply struct {
	Message    string `json:"message"`
	TokensUsed int    `json:"tokensUsed"`
}

// Planner generates travel-planning replies for an admitted turn.
type Planner interface {
	Plan(ctx context.Context, clientID string, turn *validation.Turn) (*Reply, error)
}

// UsageRecorder reports a turn's token cost to the usage-accounting service.
// A non-nil counters result is authoritative and replaces the local view.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, clientID string, tokensUsed int) (*quota.ServerCounters, error)
}

// HTTPPlanner calls the planning backend over HTTP.
type HTTPPlanner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPlanner creates a planner for the given backend URL. timeout is
// in milliseconds.
func NewHTTPPlanner(baseURL string, timeoutMs int) *HTTPPlanner {
	if timeoutMs <= 0 {
		timeoutMs = 60000
	}
	return &HTTPPlanner{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

type planRequest struct {
	ClientID string               `json:"clientId"`
	Input    string               `json:"input"`
	History  []validation.Message `json:"conversationHistory,omitempty"`
}

// Plan posts the sanitized turn to the backend and parses the reply.
func (p *HTTPPlanner) Plan(ctx context.Context, clientID string, turn *validation.Turn) (*Reply, error) {
	body, err := json.Marshal(planRequest{
		ClientID: clientID,
		Input:    turn.Input,
		History:  turn.History,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/plan", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build plan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planner unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ Planner returned status %d", resp.StatusCode)
		return nil, fmt.Errorf("planner returned status %d", resp.StatusCode)
	}

	message := gjson.GetBytes(respBody, "message")
	if !message.Exists() {
		return nil, fmt.Errorf("planner response missing message")
	}

	return &Reply{
		Message:    message.String(),
		TokensUsed: int(gjson.GetBytes(respBody, "tokensUsed").Int()),
	}, nil
}
