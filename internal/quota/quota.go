// Package quota tracks the per-client conversation budget: sessions per day
// and tokens per session. Counters survive restarts through a Persister and
// roll over on a calendar-day boundary. Server-reported counters, when they
// arrive, always win over the locally maintained ones: the local record is a
// latency-hiding cache, never the enforcement point of last resort.
package quota

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Storage keys for the two per-client documents.
const (
	StateKey   = "quota_state"
	SessionKey = "session_start"
)

// Limit reasons carried in snapshots and server updates.
const (
	ReasonSessionLimit = "session_limit"
	ReasonTokenLimit   = "token_limit"
	ReasonCostLimit    = "cost_limit"
)

// tokensWarningFloor selects the approaching-length warning message.
const tokensWarningFloor = 500

// Limits is the immutable per-process quota configuration.
type Limits struct {
	MaxDailySessions        int     `json:"maxDailySessions"`
	MaxSessionTokens        int     `json:"maxSessionTokens"`
	WarningThresholdPercent float64 `json:"warningThresholdPercent"`
}

// DefaultLimits returns the product defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxDailySessions:        5,
		MaxSessionTokens:        2500,
		WarningThresholdPercent: 0.8,
	}
}

// State is the persisted counter record for one client.
type State struct {
	Date         string    `json:"date"` // calendar day the counters apply to
	SessionsUsed int       `json:"sessionsUsed"`
	TokensUsed   int       `json:"tokensUsed"` // current conversation only
	LastUpdated  time.Time `json:"lastUpdated"`
}

// SessionStart marks the latest session for display purposes.
type SessionStart struct {
	StartedAt     time.Time `json:"startedAt"`
	SessionNumber int       `json:"sessionNumber"`
}

// ServerCounters is an authoritative update reported by the usage service.
type ServerCounters struct {
	SessionsUsed      int    `json:"sessionsUsed"`
	SessionsRemaining int    `json:"sessionsRemaining"`
	TokensUsed        int    `json:"tokensUsed"`
	TokensRemaining   int    `json:"tokensRemaining"`
	Reason            string `json:"reason,omitempty"`
	ResetTime         string `json:"resetTime,omitempty"`
}

// Snapshot is the derived read view handed to handlers and the UI.
type Snapshot struct {
	Date              string `json:"date"`
	SessionsUsed      int    `json:"sessionsUsed"`
	SessionsRemaining int    `json:"sessionsRemaining"`
	TokensUsed        int    `json:"tokensUsed"`
	TokensRemaining   int    `json:"tokensRemaining"`
	IsLimited         bool   `json:"isLimited"`
	Warning           bool   `json:"warning"`
	LimitReason       string `json:"limitReason,omitempty"`
	ResetTime         string `json:"resetTime,omitempty"`
	Message           string `json:"message,omitempty"`
}

// Persister stores per-client JSON documents under fixed keys.
type Persister interface {
	Load(clientID, key string) ([]byte, error) // (nil, nil) when absent
	Save(clientID, key string, value []byte) error
	Delete(clientID string) error
}

// Tracker owns the in-memory authoritative copy of one client's counters.
// It is the single writer to storage for that client; operations are
// serialized through its mutex.
type Tracker struct {
	mu       sync.Mutex
	clientID string
	limits   Limits
	state    State
	session  SessionStart

	// server overrides, set by ApplyServerUpdate and cleared by the next
	// local mutation once the derived view can be recomputed
	serverRemaining *ServerCounters
	limitReason     string
	resetTime       string

	persister Persister
	now       func() time.Time
}

// newTracker loads persisted state and applies the day-rollover rule. The
// rollover check runs exactly once, here: a session spanning midnight is
// not truncated mid-flight, the new day only affects the next load.
func newTracker(clientID string, limits Limits, p Persister, now func() time.Time) *Tracker {
	t := &Tracker{
		clientID:  clientID,
		limits:    limits,
		persister: p,
		now:       now,
	}

	today := now().Format("2006-01-02")
	t.state = State{Date: today}

	if raw, err := p.Load(clientID, StateKey); err != nil {
		log.Printf("⚠️ [Quota] Failed to load state for %s: %v", clientID, err)
	} else if raw != nil {
		var stored State
		if err := json.Unmarshal(raw, &stored); err != nil {
			log.Printf("⚠️ [Quota] Discarding unreadable state for %s: %v", clientID, err)
		} else if stored.Date == today {
			t.state = stored
		} else {
			// Sole rollover rule: a record from another calendar day is
			// discarded and counters reset before use.
			log.Printf("🔄 [Quota] Day rollover for %s (%s → %s), counters reset", clientID, stored.Date, today)
			t.persistState()
		}
	}

	if raw, err := p.Load(clientID, SessionKey); err == nil && raw != nil {
		var mark SessionStart
		if err := json.Unmarshal(raw, &mark); err == nil {
			t.session = mark
		}
	}

	return t
}

// StartNewSession consumes one daily session and resets the token counter.
// Returns false without mutating anything when no sessions remain.
func (t *Tracker) StartNewSession() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionsRemainingLocked() == 0 {
		return false
	}

	t.state.SessionsUsed++
	t.state.TokensUsed = 0
	t.state.LastUpdated = t.now()
	t.clearServerOverridesLocked()
	t.persistState()

	t.session = SessionStart{StartedAt: t.now(), SessionNumber: t.state.SessionsUsed}
	t.persistSession()
	return true
}

// RecordTokenUsage accepts the running token total for the current session.
// Only a value above the stored one mutates state, which makes the call
// idempotent under replayed or out-of-order updates.
func (t *Tracker) RecordTokenUsage(currentTotal int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if currentTotal <= t.state.TokensUsed {
		return
	}

	t.state.TokensUsed = currentTotal
	t.state.LastUpdated = t.now()
	t.clearServerOverridesLocked()
	t.persistState()
}

// ApplyServerUpdate replaces the local view with server-reported counters.
// The server is the only party that can enforce the limit against a
// tampered client, so its numbers always win; nothing is merged.
func (t *Tracker) ApplyServerUpdate(sc ServerCounters) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.SessionsUsed = sc.SessionsUsed
	t.state.TokensUsed = sc.TokensUsed
	t.state.LastUpdated = t.now()
	t.serverRemaining = &sc
	t.limitReason = sc.Reason
	t.resetTime = sc.ResetTime
	t.persistState()
}

// Reset clears persisted and in-memory state. Operator/debug use only, not
// reachable from the normal user flow.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = State{Date: t.now().Format("2006-01-02")}
	t.session = SessionStart{}
	t.clearServerOverridesLocked()
	if err := t.persister.Delete(t.clientID); err != nil {
		log.Printf("⚠️ [Quota] Failed to clear state for %s: %v", t.clientID, err)
	}
}

func (t *Tracker) setLimits(limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits = limits
}

// LastSession returns the latest session-start marker.
func (t *Tracker) LastSession() SessionStart {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Snapshot computes the derived view, including the human-readable status
// message.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Date:         t.state.Date,
		SessionsUsed: t.state.SessionsUsed,
		TokensUsed:   t.state.TokensUsed,
		ResetTime:    t.resetTime,
	}

	if t.serverRemaining != nil {
		s.SessionsRemaining = t.serverRemaining.SessionsRemaining
		s.TokensRemaining = t.serverRemaining.TokensRemaining
	} else {
		s.SessionsRemaining = t.sessionsRemainingLocked()
		s.TokensRemaining = t.tokensRemainingLocked()
	}

	s.IsLimited = s.SessionsRemaining == 0 || s.TokensRemaining == 0
	s.Warning = t.warningLocked()

	if s.IsLimited {
		s.LimitReason = t.limitReason
		if s.LimitReason == "" {
			if s.SessionsRemaining == 0 {
				s.LimitReason = ReasonSessionLimit
			} else {
				s.LimitReason = ReasonTokenLimit
			}
		}
	}

	s.Message = statusMessage(s)
	return s
}

func (t *Tracker) sessionsRemainingLocked() int {
	return maxInt(0, t.limits.MaxDailySessions-t.state.SessionsUsed)
}

func (t *Tracker) tokensRemainingLocked() int {
	return maxInt(0, t.limits.MaxSessionTokens-t.state.TokensUsed)
}

// warningLocked is an OR across dimensions: hitting either ceiling warns.
func (t *Tracker) warningLocked() bool {
	pct := t.limits.WarningThresholdPercent
	if t.limits.MaxDailySessions > 0 &&
		float64(t.state.SessionsUsed)/float64(t.limits.MaxDailySessions) >= pct {
		return true
	}
	if t.limits.MaxSessionTokens > 0 &&
		float64(t.state.TokensUsed)/float64(t.limits.MaxSessionTokens) >= pct {
		return true
	}
	return false
}

// clearServerOverridesLocked drops the server-reported view as one unit.
// A reason or reset time outliving its counters would attach stale server
// context to a locally derived limit.
func (t *Tracker) clearServerOverridesLocked() {
	t.serverRemaining = nil
	t.limitReason = ""
	t.resetTime = ""
}

func (t *Tracker) persistState() {
	raw, err := json.Marshal(t.state)
	if err != nil {
		log.Printf("⚠️ [Quota] Failed to encode state for %s: %v", t.clientID, err)
		return
	}
	if err := t.persister.Save(t.clientID, StateKey, raw); err != nil {
		log.Printf("⚠️ [Quota] Failed to persist state for %s: %v", t.clientID, err)
	}
}

func (t *Tracker) persistSession() {
	raw, err := json.Marshal(t.session)
	if err != nil {
		log.Printf("⚠️ [Quota] Failed to encode session mark for %s: %v", t.clientID, err)
		return
	}
	if err := t.persister.Save(t.clientID, SessionKey, raw); err != nil {
		log.Printf("⚠️ [Quota] Failed to persist session mark for %s: %v", t.clientID, err)
	}
}

// statusMessage selects the user-facing status line in priority order:
// hard limit first, then the session warning, then the token warning.
func statusMessage(s Snapshot) string {
	if s.IsLimited {
		switch s.LimitReason {
		case ReasonSessionLimit:
			return "Daily conversation limit reached. Please come back tomorrow!"
		case ReasonTokenLimit:
			return "This conversation has reached its length limit. Start a new session to continue planning."
		case ReasonCostLimit:
			return "The service is temporarily at capacity. Please try again later."
		default:
			return "Usage limit reached. Please try again later."
		}
	}
	if s.Warning && s.SessionsRemaining <= 1 {
		if s.SessionsRemaining == 1 {
			return "1 session remaining today"
		}
		return fmt.Sprintf("%d sessions remaining today", s.SessionsRemaining)
	}
	if s.Warning && s.TokensRemaining < tokensWarningFloor {
		return "This conversation is approaching its length limit"
	}
	return ""
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Manager hands out one Tracker per client and caches it for the process
// lifetime, so the rollover check runs once per client per process.
type Manager struct {
	mu        sync.Mutex
	trackers  map[string]*Tracker
	limits    Limits
	persister Persister
	now       func() time.Time
}

// NewManager creates a Manager over the given persistence layer.
func NewManager(limits Limits, p Persister) *Manager {
	return &Manager{
		trackers:  make(map[string]*Tracker),
		limits:    limits,
		persister: p,
		now:       time.Now,
	}
}

// Tracker returns the cached tracker for a client, loading persisted state
// on first use.
func (m *Manager) Tracker(clientID string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.trackers[clientID]; ok {
		return t
	}
	t := newTracker(clientID, m.limits, m.persister, m.now)
	m.trackers[clientID] = t
	return t
}

// Limits returns the current configuration.
func (m *Manager) Limits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// UpdateLimits applies new limits to future and already-cached trackers.
// Counters are untouched; only the ceilings move.
func (m *Manager) UpdateLimits(limits Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limits = limits
	for _, t := range m.trackers {
		t.setLimits(limits)
	}
}
