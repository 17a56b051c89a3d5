package quota

import (
	"encoding/json"
	"testing"
	"time"
)

// memStore is an in-memory Persister for tracker tests.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Load(clientID, key string) ([]byte, error) {
	return s.data[clientID+"/"+key], nil
}

func (s *memStore) Save(clientID, key string, value []byte) error {
	s.data[clientID+"/"+key] = value
	return nil
}

func (s *memStore) Delete(clientID string) error {
	delete(s.data, clientID+"/"+StateKey)
	delete(s.data, clientID+"/"+SessionKey)
	return nil
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func newTestTracker(store *memStore) *Tracker {
	return newTracker("client-1", DefaultLimits(), store, fixedNow)
}

func TestStartNewSession_RoundTripToLimit(t *testing.T) {
	tr := newTestTracker(newMemStore())

	for i := 1; i <= 5; i++ {
		if !tr.StartNewSession() {
			t.Fatalf("session %d rejected, want success", i)
		}
	}

	snap := tr.Snapshot()
	if snap.SessionsRemaining != 0 || !snap.IsLimited {
		t.Fatalf("after 5 sessions: %+v, want limited with 0 remaining", snap)
	}
	if snap.LimitReason != ReasonSessionLimit {
		t.Fatalf("limitReason = %q, want %q", snap.LimitReason, ReasonSessionLimit)
	}

	// Sixth call fails without mutating state.
	if tr.StartNewSession() {
		t.Fatalf("6th session accepted, want rejection")
	}
	after := tr.Snapshot()
	if after.SessionsUsed != 5 {
		t.Fatalf("sessionsUsed = %d after failed start, want 5", after.SessionsUsed)
	}
}

func TestStartNewSession_ResetsTokensAndRecordsMarker(t *testing.T) {
	tr := newTestTracker(newMemStore())

	tr.StartNewSession()
	tr.RecordTokenUsage(1200)
	tr.StartNewSession()

	snap := tr.Snapshot()
	if snap.TokensUsed != 0 {
		t.Fatalf("tokensUsed = %d after new session, want 0", snap.TokensUsed)
	}

	mark := tr.LastSession()
	if mark.SessionNumber != 2 {
		t.Fatalf("sessionNumber = %d, want 2", mark.SessionNumber)
	}
	if mark.StartedAt.IsZero() {
		t.Fatalf("session marker missing timestamp")
	}
}

func TestRecordTokenUsage_MonotonicMax(t *testing.T) {
	tr := newTestTracker(newMemStore())
	tr.StartNewSession()

	tr.RecordTokenUsage(800)
	tr.RecordTokenUsage(800) // replay
	tr.RecordTokenUsage(300) // out-of-order

	if got := tr.Snapshot().TokensUsed; got != 800 {
		t.Fatalf("tokensUsed = %d, want 800 (never decreases)", got)
	}

	tr.RecordTokenUsage(1500)
	if got := tr.Snapshot().TokensUsed; got != 1500 {
		t.Fatalf("tokensUsed = %d, want 1500", got)
	}
}

func TestDayRollover_DiscardsStaleRecord(t *testing.T) {
	store := newMemStore()

	yesterday := State{
		Date:         "2026-08-29",
		SessionsUsed: 5,
		TokensUsed:   2400,
		LastUpdated:  fixedNow().Add(-24 * time.Hour),
	}
	raw, _ := json.Marshal(yesterday)
	store.Save("client-1", StateKey, raw)

	tr := newTestTracker(store)
	snap := tr.Snapshot()
	if snap.SessionsUsed != 0 || snap.TokensUsed != 0 {
		t.Fatalf("stale record survived rollover: %+v", snap)
	}
	if snap.Date != "2026-08-30" {
		t.Fatalf("date = %q, want today", snap.Date)
	}

	// The reset state is persisted so a reload sees today's record.
	stored, _ := store.Load("client-1", StateKey)
	var reloaded State
	if err := json.Unmarshal(stored, &reloaded); err != nil {
		t.Fatalf("persisted state unreadable: %v", err)
	}
	if reloaded.Date != "2026-08-30" || reloaded.SessionsUsed != 0 {
		t.Fatalf("persisted rollover state = %+v", reloaded)
	}
}

func TestSameDayRecordSurvivesReload(t *testing.T) {
	store := newMemStore()

	tr := newTestTracker(store)
	tr.StartNewSession()
	tr.RecordTokenUsage(900)

	reloaded := newTestTracker(store)
	snap := reloaded.Snapshot()
	if snap.SessionsUsed != 1 || snap.TokensUsed != 900 {
		t.Fatalf("reloaded state = %+v, want counters preserved", snap)
	}
}

func TestWarningThreshold_EitherDimension(t *testing.T) {
	tr := newTestTracker(newMemStore())
	tr.StartNewSession()

	// 2000/2500 = 80%: the token dimension alone must warn. Exactly 500
	// tokens remain, which is not yet below the message floor.
	tr.RecordTokenUsage(2000)
	snap := tr.Snapshot()
	if !snap.Warning {
		t.Fatalf("80%% token usage did not warn: %+v", snap)
	}
	if snap.IsLimited {
		t.Fatalf("warning state reported as limited: %+v", snap)
	}
	if snap.Message != "" {
		t.Fatalf("message at exactly 500 tokens remaining = %q, want none", snap.Message)
	}

	// One more token drops remaining below 500 and surfaces the message.
	tr.RecordTokenUsage(2001)
	snap = tr.Snapshot()
	if snap.Message != "This conversation is approaching its length limit" {
		t.Fatalf("message = %q", snap.Message)
	}

	// Session dimension: 4/5 = 80% warns with the remaining-session count.
	tr2 := newTestTracker(newMemStore())
	for i := 0; i < 4; i++ {
		tr2.StartNewSession()
	}
	snap = tr2.Snapshot()
	if !snap.Warning {
		t.Fatalf("4/5 sessions did not warn: %+v", snap)
	}
	if snap.Message != "1 session remaining today" {
		t.Fatalf("message = %q", snap.Message)
	}
}

func TestLimitMessages(t *testing.T) {
	tr := newTestTracker(newMemStore())
	for i := 0; i < 5; i++ {
		tr.StartNewSession()
	}
	if got := tr.Snapshot().Message; got != "Daily conversation limit reached. Please come back tomorrow!" {
		t.Fatalf("session-limit message = %q", got)
	}

	tr2 := newTestTracker(newMemStore())
	tr2.StartNewSession()
	tr2.RecordTokenUsage(2500)
	snap := tr2.Snapshot()
	if snap.LimitReason != ReasonTokenLimit {
		t.Fatalf("limitReason = %q, want token_limit", snap.LimitReason)
	}
	if snap.Message != "This conversation has reached its length limit. Start a new session to continue planning." {
		t.Fatalf("token-limit message = %q", snap.Message)
	}
}

func TestApplyServerUpdate_AlwaysWins(t *testing.T) {
	tr := newTestTracker(newMemStore())
	tr.StartNewSession()
	tr.RecordTokenUsage(100)

	tr.ApplyServerUpdate(ServerCounters{
		SessionsUsed:      5,
		SessionsRemaining: 0,
		TokensUsed:        2500,
		TokensRemaining:   0,
		Reason:            ReasonCostLimit,
		ResetTime:         "2026-08-31T00:00:00Z",
	})

	snap := tr.Snapshot()
	if snap.SessionsUsed != 5 || snap.TokensUsed != 2500 {
		t.Fatalf("server counters not applied: %+v", snap)
	}
	if !snap.IsLimited || snap.LimitReason != ReasonCostLimit {
		t.Fatalf("server limit reason lost: %+v", snap)
	}
	if snap.ResetTime != "2026-08-31T00:00:00Z" {
		t.Fatalf("resetTime = %q", snap.ResetTime)
	}
	if snap.Message != "The service is temporarily at capacity. Please try again later." {
		t.Fatalf("cost-limit message = %q", snap.Message)
	}
}

func TestLocalMutationClearsServerOverrides(t *testing.T) {
	tr := newTestTracker(newMemStore())
	tr.StartNewSession()

	tr.ApplyServerUpdate(ServerCounters{
		SessionsUsed:      1,
		SessionsRemaining: 4,
		TokensUsed:        2000,
		TokensRemaining:   500,
		Reason:            ReasonCostLimit,
		ResetTime:         "2026-08-31T00:00:00Z",
	})

	// A later local update supersedes the whole server view. When the token
	// ceiling is then hit locally, the reason must be derived locally, not
	// echo the server's old one.
	tr.RecordTokenUsage(2500)
	snap := tr.Snapshot()
	if !snap.IsLimited {
		t.Fatalf("expected limited at token ceiling: %+v", snap)
	}
	if snap.LimitReason != ReasonTokenLimit {
		t.Fatalf("limitReason = %q, want %q (stale server reason survived)", snap.LimitReason, ReasonTokenLimit)
	}
	if snap.ResetTime != "" {
		t.Fatalf("resetTime = %q, want cleared with the server view", snap.ResetTime)
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	store := newMemStore()
	tr := newTracker("client-1", DefaultLimits(), store, fixedNow)
	tr.StartNewSession()
	tr.RecordTokenUsage(2000)

	tr.Reset()

	snap := tr.Snapshot()
	if snap.SessionsUsed != 0 || snap.TokensUsed != 0 || snap.IsLimited || snap.Warning {
		t.Fatalf("state after reset = %+v, want zeroed", snap)
	}
	if raw, _ := store.Load("client-1", StateKey); raw != nil {
		t.Fatalf("persisted state survived reset")
	}
}

func TestManager_CachesTrackerPerClient(t *testing.T) {
	m := NewManager(DefaultLimits(), newMemStore())

	a := m.Tracker("client-a")
	if m.Tracker("client-a") != a {
		t.Fatalf("expected cached tracker for same client")
	}
	if m.Tracker("client-b") == a {
		t.Fatalf("expected distinct tracker per client")
	}
}
