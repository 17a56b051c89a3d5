// Package agent classifies user-agent strings into bot / allowed crawler /
// human-likely. The policy is an ordered list of predicate rules evaluated
// top to bottom, first match wins, so each rule stays independently
// testable and the list can be extended without restructuring.
package agent

import (
	"regexp"
	"strings"
)

// Verdict is the per-request classification result. It is never persisted.
type Verdict struct {
	IsBot            bool   `json:"isBot"`
	IsAllowedCrawler bool   `json:"isAllowedCrawler"`
	BotType          string `json:"botType,omitempty"`
}

// Config holds the agent token lists. Allowed crawlers are matched before
// blocked tokens so a legitimate crawler whose UA happens to contain a
// generic fragment ("bot") is not misclassified.
type Config struct {
	AllowedCrawlers []string
	BlockedAgents   []string
}

// Classifier scores user-agent strings. Stateless; safe for concurrent use.
type Classifier struct {
	allowed []string
	blocked []string
}

// bareToolPattern matches a bare "tool/version" UA with nothing else.
var bareToolPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*/[0-9][0-9.]*$`)

// New creates a Classifier with lowercased token lists.
func New(cfg Config) *Classifier {
	return &Classifier{
		allowed: lowerAll(cfg.AllowedCrawlers),
		blocked: lowerAll(cfg.BlockedAgents),
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

// Classify evaluates the rule list against a user-agent string.
func (c *Classifier) Classify(userAgent string) Verdict {
	// Rule 1: no user-agent at all is automation, never a browser.
	if strings.TrimSpace(userAgent) == "" {
		return Verdict{IsBot: true, BotType: "no-user-agent"}
	}

	lower := strings.ToLower(userAgent)

	// Rule 2: recognized crawlers are bots but allowed limited access.
	for _, token := range c.allowed {
		if strings.Contains(lower, token) {
			return Verdict{IsBot: true, IsAllowedCrawler: true, BotType: token}
		}
	}

	// Rule 3: known tool/library/hostile-crawler signatures.
	for _, token := range c.blocked {
		if strings.Contains(lower, token) {
			return Verdict{IsBot: true, BotType: token}
		}
	}

	// Rule 4: heuristic indicators. Any single signal is too weak alone
	// (a short but real browser string must not trigger a block); two
	// independent signals tip the balance.
	indicators := 0
	if len(userAgent) < 10 {
		indicators++
	}
	if len(userAgent) > 500 {
		indicators++
	}
	if !strings.Contains(lower, "mozilla") {
		indicators++
	}
	if strings.Contains(lower, "automated") || strings.Contains(lower, "test") {
		indicators++
	}
	if bareToolPattern.MatchString(strings.TrimSpace(userAgent)) {
		indicators++
	}
	if indicators >= 2 {
		return Verdict{IsBot: true, BotType: "suspicious-pattern"}
	}

	return Verdict{}
}
