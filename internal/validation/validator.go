// Package validation schema-checks and sanitizes a conversation turn before
// it can reach the injection detector or any paid upstream call.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	// MinInputLength is the minimum trimmed input length.
	MinInputLength = 10
	// MaxInputLength is the maximum raw input length.
	MaxInputLength = 1000
	// MaxHistoryLength caps the conversation history. Exceeding it is a
	// hard failure, not silent truncation: dropping turns behind the
	// user's back would silently lose context they expect to be used.
	MaxHistoryLength = 50
)

// Fixed user-facing messages. Raw validation detail never reaches the client.
const (
	msgTooShort       = "Please provide more detail about your travel plans"
	msgTooLong        = "Message too long, please shorten your request"
	msgHistoryTooLong = "Conversation history is too long, please start a new session"
	msgNotAString     = "Message must be plain text"
)

// Message is one sanitized history entry.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Turn is a validated, sanitized conversation turn.
type Turn struct {
	Input   string
	History []Message
}

// Result is the outcome of validating one raw turn.
type Result struct {
	Valid   bool
	Message string
	Turn    *Turn
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// ValidateBody checks a raw JSON request body of shape
// {input, conversationHistory?} and returns the sanitized turn.
func ValidateBody(body []byte) Result {
	input := gjson.GetBytes(body, "input")
	if !input.Exists() || input.Type != gjson.String {
		return Result{Message: msgNotAString}
	}

	res := validateInput(input.String())
	if !res.Valid {
		return res
	}

	history := gjson.GetBytes(body, "conversationHistory")
	if history.Exists() && history.IsArray() {
		entries := history.Array()
		if len(entries) > MaxHistoryLength {
			return Result{Message: msgHistoryTooLong}
		}
		for _, entry := range entries {
			msg, ok := parseHistoryEntry(entry)
			if !ok {
				// Malformed entries are dropped rather than failing
				// the whole request.
				continue
			}
			res.Turn.History = append(res.Turn.History, msg)
		}
	}

	return res
}

// validateInput applies the length bounds and sanitization to the input text.
func validateInput(input string) Result {
	if utf8.RuneCountInString(strings.TrimSpace(input)) < MinInputLength {
		return Result{Message: msgTooShort}
	}
	if utf8.RuneCountInString(input) > MaxInputLength {
		return Result{Message: msgTooLong}
	}

	return Result{Valid: true, Turn: &Turn{Input: Sanitize(input)}}
}

// parseHistoryEntry validates one {type, content} history object.
func parseHistoryEntry(entry gjson.Result) (Message, bool) {
	if !entry.IsObject() {
		return Message{}, false
	}
	typ := entry.Get("type")
	content := entry.Get("content")
	if typ.Type != gjson.String || content.Type != gjson.String {
		return Message{}, false
	}
	role := typ.String()
	if role != "user" && role != "assistant" {
		return Message{}, false
	}

	msg := Message{Role: role, Content: content.String()}
	if ts := entry.Get("timestamp"); ts.Type == gjson.String {
		msg.Timestamp = ts.String()
	}
	return msg, true
}

// Sanitize trims, collapses internal whitespace runs to single spaces, and
// hard-truncates to the maximum length as a final safety net.
func Sanitize(input string) string {
	out := whitespaceRun.ReplaceAllString(strings.TrimSpace(input), " ")
	if utf8.RuneCountInString(out) > MaxInputLength {
		runes := []rune(out)
		out = string(runes[:MaxInputLength])
	}
	return out
}
