package middleware

import (
	"crypto/subtle"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/voyago/tripgate/internal/config"
)

// secureCompare performs a constant-time comparison of two strings
// to prevent timing attacks
func secureCompare(a, b string) bool {
	// Both strings must be non-empty and equal length for constant-time comparison
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// getAdminToken extracts the admin token from request headers
func getAdminToken(c *gin.Context) string {
	if key := c.GetHeader("x-admin-token"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// AdminAuthMiddleware guards the admin surface with the configured token.
// Repeated failures from one IP trip the brute-force limiter.
func AdminAuthMiddleware(envCfg *config.EnvConfig, failureLimiter *AuthFailureRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if failureLimiter != nil && failureLimiter.IsBlocked(clientIP) {
			c.JSON(429, gin.H{
				"error":   "Too Many Requests",
				"message": "Too many failed authentication attempts, try again later",
			})
			c.Abort()
			return
		}

		// No token configured means the admin surface is disabled outright.
		if envCfg.AdminToken == "" {
			c.JSON(404, gin.H{"error": "Not Found"})
			c.Abort()
			return
		}

		if secureCompare(getAdminToken(c), envCfg.AdminToken) {
			if failureLimiter != nil {
				failureLimiter.ClearFailures(clientIP)
			}
			c.Next()
			return
		}

		if failureLimiter != nil {
			failureLimiter.RecordFailure(clientIP)
		}

		log.Printf("🔒 [Admin Auth] Failed attempt from IP %s at %s",
			clientIP, time.Now().Format(time.RFC3339))

		c.JSON(401, gin.H{
			"error":   "Unauthorized",
			"message": "Invalid or missing admin token",
		})
		c.Abort()
	}
}
