package pathguard

import (
	"net/http"
	"testing"
)

func testGuard() *Guard {
	return New(Config{
		SuspiciousPaths:  []string{"/wp-admin", ".env", ".git", "/phpmyadmin", ".bak", "/debug"},
		ExemptPrefixes:   []string{"/assets/", "/static/"},
		ExemptExtensions: []string{".css", ".js", ".ico"},
		APIPrefix:        "/api/",
	})
}

func TestCheckPath_SuspiciousAlwaysNotFound(t *testing.T) {
	g := testGuard()

	paths := []string{
		"/wp-admin/setup.php",
		"/.env",
		"/repo/.git/config",
		"/backup/site.bak",
		"/phpMyAdmin/index.php",
	}
	for _, p := range paths {
		if d := g.CheckPath(p); d != NotFound {
			t.Fatalf("CheckPath(%q) = %v, want NotFound", p, d)
		}
	}

	if d := g.CheckPath("/plan-trip"); d != Allow {
		t.Fatalf("CheckPath(/plan-trip) = %v, want Allow", d)
	}
}

func TestCheckOrigin_APINamespace(t *testing.T) {
	g := testGuard()

	if d := g.CheckOrigin("/api/chat", "", "https://trips.example.com"); d != BadRequest {
		t.Fatalf("missing referer = %v, want BadRequest", d)
	}
	if d := g.CheckOrigin("/api/chat", "https://evil.example.org/page", "https://trips.example.com"); d != Forbidden {
		t.Fatalf("cross-origin referer = %v, want Forbidden", d)
	}
	if d := g.CheckOrigin("/api/chat", "https://trips.example.com/planner", "https://trips.example.com"); d != Allow {
		t.Fatalf("same-origin referer = %v, want Allow", d)
	}
	// Bare host on the request side (derived from Host header).
	if d := g.CheckOrigin("/api/chat", "https://trips.example.com/planner", "trips.example.com"); d != Allow {
		t.Fatalf("bare-host origin = %v, want Allow", d)
	}
}

func TestCheckOrigin_NonAPIPathIgnored(t *testing.T) {
	g := testGuard()
	if d := g.CheckOrigin("/about", "", "https://trips.example.com"); d != Allow {
		t.Fatalf("non-API path without referer = %v, want Allow", d)
	}
}

func TestEvaluate_ExemptBypassesEverything(t *testing.T) {
	g := testGuard()
	// Suspicious substring inside an exempt prefix still passes.
	if d := g.Evaluate("/assets/.env.js", "", ""); d != Allow {
		t.Fatalf("exempt path = %v, want Allow", d)
	}
	if !g.IsExempt("/app/main.js") {
		t.Fatalf("expected .js extension to be exempt")
	}
}

func TestDecisionMapping(t *testing.T) {
	if NotFound.StatusCode() != http.StatusNotFound || NotFound.Body() != "Not Found" {
		t.Fatalf("NotFound mapping wrong: %d %q", NotFound.StatusCode(), NotFound.Body())
	}
	if Forbidden.StatusCode() != http.StatusForbidden || Forbidden.Body() != "Forbidden" {
		t.Fatalf("Forbidden mapping wrong: %d %q", Forbidden.StatusCode(), Forbidden.Body())
	}
	if BadRequest.StatusCode() != http.StatusBadRequest || BadRequest.Body() != "Bad Request" {
		t.Fatalf("BadRequest mapping wrong: %d %q", BadRequest.StatusCode(), BadRequest.Body())
	}
}

func TestCallerIP(t *testing.T) {
	h := http.Header{}
	if got := CallerIP(h); got != "unknown" {
		t.Fatalf("CallerIP(empty) = %q, want unknown", got)
	}

	h.Set("X-Real-IP", "10.1.2.3")
	if got := CallerIP(h); got != "10.1.2.3" {
		t.Fatalf("CallerIP(real-ip) = %q", got)
	}

	h.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := CallerIP(h); got != "203.0.113.7" {
		t.Fatalf("CallerIP(forwarded-for) = %q, want first hop", got)
	}
}
