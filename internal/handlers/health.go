package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/voyago/tripgate/internal/config"
)

// HealthCheck returns a minimal health response, no auth required.
// Only basic status, no system detail.
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "healthy",
		})
	}
}

// HealthCheckDetailed returns full process information for operators
// GET /admin/health
func HealthCheckDetailed(envCfg *config.EnvConfig, secManager *config.SecurityManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := secManager.GetConfig()

		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(startTime).Seconds(),
			"mode":      envCfg.Env,
			"version":   getVersion(),
			"policy": gin.H{
				"suspiciousPaths":   len(cfg.PathGuard.SuspiciousPaths),
				"blockedAgents":     len(cfg.Agent.BlockedAgents),
				"forbiddenPatterns": len(cfg.Injection.ForbiddenPatterns),
				"maxDailySessions":  cfg.Quota.MaxDailySessions,
				"maxSessionTokens":  cfg.Quota.MaxSessionTokens,
			},
		})
	}
}

func getVersion() gin.H {
	// Injected at build time via -ldflags from the VERSION file
	return gin.H{
		"version":   versionString,
		"buildTime": buildTime,
		"gitCommit": gitCommit,
	}
}

var (
	versionString = "v0.0.0-dev"
	buildTime     = "unknown"
	gitCommit     = "unknown"
)

// SetVersionInfo sets version information (called from main)
func SetVersionInfo(version, build, commit string) {
	versionString = version
	buildTime = build
	gitCommit = commit
}

var startTime = time.Now()
