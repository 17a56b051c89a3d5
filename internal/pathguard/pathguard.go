// Package pathguard evaluates request paths and origin evidence before any
// route handler runs. It hides sensitive surface (404 for scanner probes)
// and enforces same-origin access to the API namespace.
package pathguard

import (
	"net/http"
	"net/url"
	"strings"
)

// Decision is the terminal outcome for a guarded request path.
type Decision int

const (
	Allow Decision = iota
	NotFound
	Forbidden
	BadRequest
)

// String returns the decision name for logging.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case NotFound:
		return "not-found"
	case Forbidden:
		return "forbidden"
	case BadRequest:
		return "bad-request"
	default:
		return "unknown"
	}
}

// StatusCode maps a decision to its HTTP status.
func (d Decision) StatusCode() int {
	switch d {
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case BadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

// Body returns the fixed plain-text response body for a blocking decision.
func (d Decision) Body() string {
	switch d {
	case NotFound:
		return "Not Found"
	case Forbidden:
		return "Forbidden"
	case BadRequest:
		return "Bad Request"
	default:
		return ""
	}
}

// Config holds the static path policy. Lists are data, not code, so the
// policy can be tuned without touching the evaluation logic.
type Config struct {
	// SuspiciousPaths are substrings that mark scanner probes (admin
	// panels, dotfiles, backup files, debug endpoints).
	SuspiciousPaths []string
	// ExemptPrefixes bypass all checks (static assets, framework internals).
	ExemptPrefixes []string
	// ExemptExtensions bypass all checks by filename extension.
	ExemptExtensions []string
	// APIPrefix is the namespace that requires same-origin evidence.
	APIPrefix string
}

// Guard applies the path policy. It is stateless; one instance is shared
// by every request.
type Guard struct {
	cfg Config
}

// New creates a Guard from the given policy.
func New(cfg Config) *Guard {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	return &Guard{cfg: cfg}
}

// IsExempt reports whether a path bypasses the guard entirely.
func (g *Guard) IsExempt(path string) bool {
	for _, prefix := range g.cfg.ExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, ext := range g.cfg.ExemptExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// IsAPIPath reports whether a path is under the guarded API namespace.
func (g *Guard) IsAPIPath(path string) bool {
	return strings.HasPrefix(path, g.cfg.APIPrefix)
}

// CheckPath returns NotFound for paths containing a suspicious substring,
// regardless of caller identity. Existence of protected surface is never
// revealed, even to legitimate-looking clients.
func (g *Guard) CheckPath(path string) Decision {
	lower := strings.ToLower(path)
	for _, s := range g.cfg.SuspiciousPaths {
		if s == "" {
			continue
		}
		if strings.Contains(lower, s) {
			return NotFound
		}
	}
	return Allow
}

// CheckOrigin enforces same-origin access for API paths. A missing referer
// is BadRequest (no CSRF evidence); a cross-origin referer is Forbidden.
// Non-API paths always pass.
func (g *Guard) CheckOrigin(path, referer, requestOrigin string) Decision {
	if !g.IsAPIPath(path) {
		return Allow
	}

	referer = strings.TrimSpace(referer)
	if referer == "" {
		return BadRequest
	}

	refOrigin := originOf(referer)
	if refOrigin == "" || !sameOrigin(refOrigin, requestOrigin) {
		return Forbidden
	}

	return Allow
}

// Evaluate runs the full guard: suspicious-path check first, then the
// origin check for API paths.
func (g *Guard) Evaluate(path, referer, requestOrigin string) Decision {
	if g.IsExempt(path) {
		return Allow
	}
	if d := g.CheckPath(path); d != Allow {
		return d
	}
	return g.CheckOrigin(path, referer, requestOrigin)
}

// originOf extracts scheme://host from a URL string, or "" if unparseable.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// sameOrigin compares two origins, tolerating a bare host on the request
// side (requestOrigin may be just "example.com" when derived from Host).
func sameOrigin(refOrigin, requestOrigin string) bool {
	if requestOrigin == "" {
		return false
	}
	if strings.EqualFold(refOrigin, requestOrigin) {
		return true
	}
	// Compare host parts only when the request side carries no scheme.
	if !strings.Contains(requestOrigin, "://") {
		refURL, err := url.Parse(refOrigin)
		if err != nil {
			return false
		}
		return strings.EqualFold(refURL.Host, requestOrigin)
	}
	return false
}

// CallerIP extracts the caller address from forwarded headers, defaulting
// to "unknown" when no proxy evidence exists.
func CallerIP(headers http.Header) string {
	if v := headers.Get("X-Forwarded-For"); v != "" {
		// First hop is the original client.
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(headers.Get("X-Real-IP")); v != "" {
		return v
	}
	return "unknown"
}
