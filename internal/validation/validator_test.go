package validation

import (
	"strings"
	"testing"
)

func TestValidateBody_LengthBounds(t *testing.T) {
	// 5 characters: too short.
	res := ValidateBody([]byte(`{"input":"Paris"}`))
	if res.Valid {
		t.Fatalf("5-char input accepted, want rejection")
	}
	if res.Message != msgTooShort {
		t.Fatalf("message = %q, want %q", res.Message, msgTooShort)
	}

	// Exactly 10 characters: accepted.
	res = ValidateBody([]byte(`{"input":"Paris trip"}`))
	if !res.Valid {
		t.Fatalf("10-char input rejected: %q", res.Message)
	}

	// 1001 characters: too long.
	long := strings.Repeat("a", 1001)
	res = ValidateBody([]byte(`{"input":"` + long + `"}`))
	if res.Valid || res.Message != msgTooLong {
		t.Fatalf("1001-char input = %+v, want %q", res, msgTooLong)
	}
}

func TestValidateBody_InputMustBeString(t *testing.T) {
	for _, body := range []string{
		`{"input":12345}`,
		`{"input":["plan","a","trip"]}`,
		`{}`,
	} {
		if res := ValidateBody([]byte(body)); res.Valid {
			t.Fatalf("ValidateBody(%s) accepted, want rejection", body)
		}
	}
}

func TestValidateBody_HistoryShape(t *testing.T) {
	body := `{
		"input": "Plan a week in Lisbon for two",
		"conversationHistory": [
			{"type":"user","content":"hello"},
			{"type":"assistant","content":"hi, where to?","timestamp":"2026-08-29T10:00:00Z"},
			{"type":"system","content":"dropped: bad role"},
			{"content":"dropped: no type"},
			"dropped: not an object",
			{"type":"user","content":42}
		]
	}`
	res := ValidateBody([]byte(body))
	if !res.Valid {
		t.Fatalf("valid turn rejected: %q", res.Message)
	}
	if len(res.Turn.History) != 2 {
		t.Fatalf("history length = %d, want 2 (malformed entries dropped)", len(res.Turn.History))
	}
	if res.Turn.History[0].Role != "user" || res.Turn.History[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", res.Turn.History)
	}
	if res.Turn.History[1].Timestamp == "" {
		t.Fatalf("timestamp not carried over")
	}
}

func TestValidateBody_HistoryOverflowIsHardFailure(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"input":"Plan a week in Lisbon for two","conversationHistory":[`)
	for i := 0; i < MaxHistoryLength+1; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"type":"user","content":"turn"}`)
	}
	sb.WriteString(`]}`)

	res := ValidateBody([]byte(sb.String()))
	if res.Valid {
		t.Fatalf("oversized history accepted, want hard failure")
	}
	if res.Message != msgHistoryTooLong {
		t.Fatalf("message = %q, want %q", res.Message, msgHistoryTooLong)
	}
}

func TestSanitize(t *testing.T) {
	got := Sanitize("  plan   a\ttrip\n\nto   Rome  ")
	if got != "plan a trip to Rome" {
		t.Fatalf("Sanitize = %q", got)
	}

	// Hard truncation as the final safety net.
	got = Sanitize(strings.Repeat("b", MaxInputLength+50))
	if len(got) != MaxInputLength {
		t.Fatalf("Sanitize length = %d, want %d", len(got), MaxInputLength)
	}
}
