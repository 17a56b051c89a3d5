// Package security scans user-supplied text for prompt-injection and
// jailbreak signatures. It runs after schema validation and independently
// of it: an injection buried in prior conversation turns must also block a
// new request, because history is replayed into the AI context.
package security

import "strings"

// Severity grades a detection for logging and response selection.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Fixed user-facing messages; matched pattern detail is logged server-side only.
const (
	msgForbidden  = "Please focus on travel planning questions only"
	msgSuspicious = "Please rephrase your request"
)

// CheckResult is the outcome of scanning one piece of text.
type CheckResult struct {
	IsValid          bool     `json:"isValid"`
	Error            string   `json:"error,omitempty"`
	Severity         Severity `json:"severity,omitempty"`
	DetectedPatterns []string `json:"detectedPatterns,omitempty"`
}

// Config holds the pattern tables. Both lists are immutable configuration
// data so the detector stays testable against fixtures of known-bad input.
type Config struct {
	// ForbiddenPatterns are explicit role-hijack phrases: unambiguous
	// attack syntax, blocked outright on any single match.
	ForbiddenPatterns []string
	// SuspiciousPatterns are probing words with legitimate innocuous uses
	// ("hacking together an itinerary"); they need corroboration, at
	// least two distinct hits, before blocking.
	SuspiciousPatterns []string
}

// Detector is a stateless scanner constructed once at process start and
// shared by reference.
type Detector struct {
	forbidden  []string
	suspicious []string
}

// New creates a Detector with lowercased pattern tables.
func New(cfg Config) *Detector {
	return &Detector{
		forbidden:  lowerAll(cfg.ForbiddenPatterns),
		suspicious: lowerAll(cfg.SuspiciousPatterns),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CheckText scans a single piece of text. Forbidden patterns report every
// match; the suspicious tier needs two or more distinct hits.
func (d *Detector) CheckText(text string) CheckResult {
	lower := strings.ToLower(text)

	var matched []string
	for _, p := range d.forbidden {
		if strings.Contains(lower, p) {
			matched = append(matched, p)
		}
	}
	if len(matched) > 0 {
		return CheckResult{
			Error:            msgForbidden,
			Severity:         SeverityHigh,
			DetectedPatterns: matched,
		}
	}

	var suspicious []string
	for _, p := range d.suspicious {
		if strings.Contains(lower, p) {
			suspicious = append(suspicious, p)
		}
	}
	if len(suspicious) >= 2 {
		return CheckResult{
			Error:            msgSuspicious,
			Severity:         SeverityMedium,
			DetectedPatterns: suspicious,
		}
	}

	return CheckResult{IsValid: true}
}

// CheckTexts scans the current input followed by each history entry and
// returns the first failure.
func (d *Detector) CheckTexts(texts ...string) CheckResult {
	for _, text := range texts {
		if res := d.CheckText(text); !res.IsValid {
			return res
		}
	}
	return CheckResult{IsValid: true}
}
