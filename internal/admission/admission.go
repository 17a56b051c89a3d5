// Package admission sequences the per-turn checks in front of the paid AI
// call: schema validation, then injection scanning over input and history,
// then the quota check. The first failure short-circuits the rest; later
// stages never run speculatively because their cost must not be incurred
// once a cheaper stage has already disqualified the turn.
package admission

import (
	"log"
	"sync"

	"github.com/voyago/tripgate/internal/quota"
	"github.com/voyago/tripgate/internal/security"
	"github.com/voyago/tripgate/internal/securitylog"
	"github.com/voyago/tripgate/internal/validation"
)

// Failure codes returned to the client alongside the fixed message.
const (
	CodeInvalidInput      = "invalid_input"
	CodeSecurityViolation = "security_violation"
	CodeQuotaExceeded     = "quota_exceeded"
)

// Decision is the outcome of admitting one conversation turn.
type Decision struct {
	Admitted bool
	Code     string
	Message  string
	Severity security.Severity
	Turn     *validation.Turn
	Quota    quota.Snapshot
}

// Pipeline runs the admission stages for chat submissions. The detector is
// swappable so a config reload takes effect without restarting.
type Pipeline struct {
	mu       sync.RWMutex
	detector *security.Detector
	quotas   *quota.Manager
	recorder *securitylog.Recorder
}

// NewPipeline creates a Pipeline. recorder may be nil to disable the audit
// trail.
func NewPipeline(detector *security.Detector, quotas *quota.Manager, recorder *securitylog.Recorder) *Pipeline {
	return &Pipeline{
		detector: detector,
		quotas:   quotas,
		recorder: recorder,
	}
}

// UpdateDetector swaps the injection detector after a config reload.
func (p *Pipeline) UpdateDetector(d *security.Detector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detector = d
	log.Printf("🔄 Admission pipeline detector updated")
}

// Quotas exposes the quota manager for the status endpoints.
func (p *Pipeline) Quotas() *quota.Manager {
	return p.quotas
}

// Admit validates one raw request body for a client. callerIP is used only
// for the audit trail.
func (p *Pipeline) Admit(clientID, callerIP string, body []byte) Decision {
	// Stage 1: schema validation and sanitization.
	res := validation.ValidateBody(body)
	if !res.Valid {
		return Decision{Code: CodeInvalidInput, Message: res.Message}
	}
	turn := res.Turn

	// Stage 2: injection scan over the input and every retained history
	// entry. History is replayed into the AI context, so a signature in a
	// prior turn blocks the new request too.
	texts := make([]string, 0, 1+len(turn.History))
	texts = append(texts, turn.Input)
	for _, msg := range turn.History {
		texts = append(texts, msg.Content)
	}

	p.mu.RLock()
	detector := p.detector
	p.mu.RUnlock()

	if check := detector.CheckTexts(texts...); !check.IsValid {
		log.Printf("🚫 [Admission] Injection blocked for %s: severity=%s patterns=%v",
			clientID, check.Severity, check.DetectedPatterns)
		p.record(clientID, callerIP, check)
		return Decision{
			Code:     CodeSecurityViolation,
			Message:  check.Error,
			Severity: check.Severity,
		}
	}

	// Stage 3: quota. A turn with no history starts a session and consumes
	// one daily slot; a mid-conversation turn only needs token headroom.
	tracker := p.quotas.Tracker(clientID)
	if len(turn.History) == 0 {
		if !tracker.StartNewSession() {
			snap := tracker.Snapshot()
			return Decision{Code: CodeQuotaExceeded, Message: snap.Message, Quota: snap}
		}
	} else {
		snap := tracker.Snapshot()
		if snap.TokensRemaining == 0 {
			return Decision{Code: CodeQuotaExceeded, Message: snap.Message, Quota: snap}
		}
	}

	return Decision{Admitted: true, Turn: turn, Quota: tracker.Snapshot()}
}

func (p *Pipeline) record(clientID, callerIP string, check security.CheckResult) {
	if p.recorder == nil {
		return
	}
	detail := "patterns: "
	for i, pat := range check.DetectedPatterns {
		if i > 0 {
			detail += ", "
		}
		detail += pat
	}
	p.recorder.Record(securitylog.Event{
		Source:   "injection_detector",
		Action:   "blocked",
		Path:     "/api/chat",
		ClientIP: callerIP,
		Severity: string(check.Severity),
		Detail:   detail,
	})
}
