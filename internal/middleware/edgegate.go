package middleware

import (
	"log"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/voyago/tripgate/internal/agent"
	"github.com/voyago/tripgate/internal/pathguard"
	"github.com/voyago/tripgate/internal/securitylog"
)

// crawlerPages are the only paths an allowed crawler may fetch.
var crawlerPages = map[string]bool{
	"/":      true,
	"/about": true,
}

// EdgeGate screens every request before any route handler runs: suspicious
// path probes, bot user-agents, and cross-origin API calls are terminated
// here. The guard and classifier are swappable so a config reload takes
// effect without restarting.
type EdgeGate struct {
	mu         sync.RWMutex
	guard      *pathguard.Guard
	classifier *agent.Classifier
	siteOrigin string // canonical origin; empty means derive from Host
	recorder   *securitylog.Recorder
}

// NewEdgeGate creates an edge gate. recorder may be nil to disable the
// audit trail.
func NewEdgeGate(guard *pathguard.Guard, classifier *agent.Classifier, siteOrigin string, recorder *securitylog.Recorder) *EdgeGate {
	return &EdgeGate{
		guard:      guard,
		classifier: classifier,
		siteOrigin: siteOrigin,
		recorder:   recorder,
	}
}

// UpdatePolicy swaps the guard and classifier after a config reload.
func (eg *EdgeGate) UpdatePolicy(guard *pathguard.Guard, classifier *agent.Classifier) {
	eg.mu.Lock()
	defer eg.mu.Unlock()
	eg.guard = guard
	eg.classifier = classifier
	log.Printf("🔄 Edge gate policy updated")
}

func (eg *EdgeGate) current() (*pathguard.Guard, *agent.Classifier) {
	eg.mu.RLock()
	defer eg.mu.RUnlock()
	return eg.guard, eg.classifier
}

// Middleware returns the gin handler implementing the gate.
func (eg *EdgeGate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		guard, classifier := eg.current()

		path := c.Request.URL.Path
		callerIP := pathguard.CallerIP(c.Request.Header)

		// Stage 1: exempt paths bypass everything.
		if guard.IsExempt(path) {
			c.Next()
			return
		}

		// Stage 2: suspicious path probes get 404, never revealing whether
		// the surface exists.
		if d := guard.CheckPath(path); d != pathguard.Allow {
			log.Printf("🚫 [Edge Gate] %s %s from %s (suspicious path)", d, path, callerIP)
			eg.record("path_guard", "blocked", path, callerIP, "high", "suspicious path probe")
			c.String(d.StatusCode(), d.Body())
			c.Abort()
			return
		}

		// Stage 3: user-agent classification.
		verdict := classifier.Classify(c.Request.UserAgent())
		if verdict.IsBot {
			if verdict.IsAllowedCrawler && crawlerPages[path] {
				// Recognized crawlers may index the public pages.
				c.Header("X-Robots-Tag", "index, follow")
				c.Header("Cache-Control", "public, max-age=3600")
				log.Printf("🤖 [Edge Gate] Allowed crawler %q on %s", verdict.BotType, path)
				c.Next()
				return
			}

			log.Printf("🚫 [Edge Gate] Bot %q blocked on %s from %s", verdict.BotType, path, callerIP)
			eg.record("agent_classifier", "blocked", path, callerIP, "medium", "bot: "+verdict.BotType)
			c.String(403, "Forbidden")
			c.Abort()
			return
		}

		// Stage 4: API traffic requires same-origin evidence.
		if guard.IsAPIPath(path) {
			d := guard.CheckOrigin(path, c.Request.Referer(), eg.requestOrigin(c))
			if d != pathguard.Allow {
				reason := "cross-origin referer"
				if d == pathguard.BadRequest {
					reason = "missing referer"
				}
				log.Printf("🚫 [Edge Gate] %s %s from %s (%s)", d, path, callerIP, reason)
				eg.record("path_guard", "blocked", path, callerIP, "medium", reason)
				c.String(d.StatusCode(), d.Body())
				c.Abort()
				return
			}

			// Hardening headers for passed API traffic.
			c.Header("X-Content-Type-Options", "nosniff")
			c.Header("X-Frame-Options", "DENY")
			c.Header("X-XSS-Protection", "1; mode=block")
		}

		c.Next()
	}
}

// requestOrigin returns the configured site origin, or the request Host
// when none is configured.
func (eg *EdgeGate) requestOrigin(c *gin.Context) string {
	eg.mu.RLock()
	origin := eg.siteOrigin
	eg.mu.RUnlock()
	if origin != "" {
		return origin
	}
	return c.Request.Host
}

func (eg *EdgeGate) record(source, action, path, clientIP, severity, detail string) {
	if eg.recorder == nil {
		return
	}
	eg.recorder.Record(securitylog.Event{
		Source:   source,
		Action:   action,
		Path:     path,
		ClientIP: clientIP,
		Severity: severity,
		Detail:   detail,
	})
}
