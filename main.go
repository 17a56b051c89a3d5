package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/voyago/tripgate/internal/admission"
	"github.com/voyago/tripgate/internal/agent"
	"github.com/voyago/tripgate/internal/config"
	"github.com/voyago/tripgate/internal/database"
	"github.com/voyago/tripgate/internal/handlers"
	"github.com/voyago/tripgate/internal/logger"
	"github.com/voyago/tripgate/internal/middleware"
	"github.com/voyago/tripgate/internal/pathguard"
	"github.com/voyago/tripgate/internal/quota"
	"github.com/voyago/tripgate/internal/ratelimit"
	"github.com/voyago/tripgate/internal/security"
	"github.com/voyago/tripgate/internal/securitylog"
	"github.com/voyago/tripgate/internal/upstream"
)

// Injected at build time via -ldflags
var (
	Version   = "v0.0.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or defaults")
	}

	handlers.SetVersionInfo(Version, BuildTime, GitCommit)

	envCfg := config.NewEnvConfig()

	// Logging must come up before everything else so startup errors land in
	// the rotated file too.
	logCfg := &logger.Config{
		LogDir:     envCfg.LogDir,
		LogFile:    envCfg.LogFile,
		MaxSize:    envCfg.LogMaxSize,
		MaxBackups: envCfg.LogMaxBackups,
		MaxAge:     envCfg.LogMaxAge,
		Compress:   envCfg.LogCompress,
		Console:    envCfg.LogToConsole,
	}
	if err := logger.Setup(logCfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	// Storage backs the quota counters and the security audit trail.
	db, err := database.New(database.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	log.Printf("✅ Database initialized (%s)", db.Dialect())

	recorder := securitylog.NewRecorder(db)
	defer recorder.Close()

	// Admission policy with hot reload.
	secManager, err := config.NewSecurityManager(".config/security.json")
	if err != nil {
		log.Fatalf("Failed to initialize admission policy: %v", err)
	}
	defer secManager.Close()
	log.Printf("✅ Admission policy loaded")

	policy := secManager.GetConfig()

	quotas := quota.NewManager(quotaLimits(policy.Quota), quota.NewDBStorage(db))
	pipeline := admission.NewPipeline(buildDetector(policy.Injection), quotas, recorder)
	edgeGate := middleware.NewEdgeGate(
		buildGuard(policy.PathGuard), buildClassifier(policy.Agent),
		envCfg.SiteOrigin, recorder)

	// Policy changes reach the live components without a restart.
	secManager.SetOnChangeCallback(func(cfg config.SecurityConfig) {
		edgeGate.UpdatePolicy(buildGuard(cfg.PathGuard), buildClassifier(cfg.Agent))
		pipeline.UpdateDetector(buildDetector(cfg.Injection))
		quotas.UpdateLimits(quotaLimits(cfg.Quota))
	})

	// Rate limit configuration, also hot reloaded.
	rateLimitCfgManager, err := ratelimit.NewManager(".config/ratelimit.json")
	if err != nil {
		log.Printf("⚠️ Rate limit config manager failed to initialize: %v (using defaults)", err)
	}

	var rlCfg ratelimit.RateLimitConfig
	if rateLimitCfgManager != nil {
		rlCfg = rateLimitCfgManager.GetConfig()
	} else {
		rlCfg = ratelimit.GetDefaultConfig()
	}

	apiRateLimiter := middleware.NewRateLimiterWithConfig(rlCfg.API)
	adminRateLimiter := middleware.NewRateLimiterWithConfig(rlCfg.Admin)
	authFailureLimiter := middleware.NewAuthFailureRateLimiterWithConfig(rlCfg.AuthFailure)

	if rateLimitCfgManager != nil {
		rateLimitCfgManager.SetOnChangeCallback(func(newCfg ratelimit.RateLimitConfig) {
			apiRateLimiter.UpdateConfig(newCfg.API)
			adminRateLimiter.UpdateConfig(newCfg.Admin)
			authFailureLimiter.UpdateConfig(newCfg.AuthFailure)
		})
	}
	log.Printf("✅ Rate limiters initialized (API: %d rpm, Admin: %d rpm)",
		rlCfg.API.RequestsPerMinute, rlCfg.Admin.RequestsPerMinute)

	planner := upstream.NewHTTPPlanner(envCfg.UpstreamURL, envCfg.UpstreamTimeout)
	if envCfg.UpstreamURL == "" {
		log.Printf("⚠️ UPSTREAM_URL is not set, chat requests will fail with upstream_error")
	}

	if envCfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// gin.New instead of gin.Default: the default Logger middleware would
	// write one line per request on top of our own logging.
	r := gin.New()
	r.Use(gin.Recovery())

	// 🔒 Trusted proxies control whose forwarding headers we believe. In
	// production with no explicit list, trust nobody and use the direct IP.
	if len(envCfg.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(envCfg.TrustedProxies); err != nil {
			log.Printf("⚠️ Failed to set trusted proxies: %v", err)
		} else {
			log.Printf("✅ Trusted proxies configured: %v", envCfg.TrustedProxies)
		}
	} else if envCfg.IsProduction() {
		if err := r.SetTrustedProxies(nil); err != nil {
			log.Printf("⚠️ Failed to disable proxy trust: %v", err)
		}
	}

	r.Use(middleware.SecurityHeadersMiddleware())
	if envCfg.EnableCORS {
		r.Use(middleware.CORSMiddleware(envCfg))
	}

	// The edge gate screens every request: suspicious paths, bot agents,
	// and cross-origin API calls are turned away here.
	r.Use(edgeGate.Middleware())

	// 🔒 Minimal health endpoint, no auth, no system detail.
	r.GET("/health", handlers.HealthCheck())

	chatHandler := handlers.NewChatHandler(pipeline, planner)
	quotaHandler := handlers.NewQuotaHandler(quotas)

	apiGroup := r.Group("/api")
	if envCfg.EnableRateLimit {
		apiGroup.Use(middleware.APIRateLimitMiddleware(apiRateLimiter))
	}
	{
		apiGroup.POST("/chat", chatHandler.HandleChat)
		apiGroup.GET("/quota", quotaHandler.GetQuota)
		apiGroup.POST("/quota/usage", quotaHandler.RecordUsage)
		apiGroup.POST("/quota/sync", quotaHandler.SyncServerCounters)
	}

	// Admin surface. Disabled entirely (404) when ADMIN_TOKEN is unset.
	securityConfigHandler := handlers.NewSecurityConfigHandler(secManager, recorder)

	adminGroup := r.Group("/admin")
	if envCfg.EnableRateLimit {
		adminGroup.Use(middleware.RateLimitMiddleware(adminRateLimiter))
	}
	adminGroup.Use(middleware.AdminAuthMiddleware(envCfg, authFailureLimiter))
	{
		adminGroup.GET("/health", handlers.HealthCheckDetailed(envCfg, secManager))
		adminGroup.GET("/security/config", securityConfigHandler.GetConfig)
		adminGroup.PUT("/security/config", securityConfigHandler.UpdateConfig)
		adminGroup.GET("/security/events", securityConfigHandler.GetEvents)
		adminGroup.POST("/quota/:clientId/reset", quotaHandler.ResetQuota)
	}

	addr := fmt.Sprintf(":%d", envCfg.Port)
	fmt.Printf("\n🚀 TripGate started\n")
	fmt.Printf("📌 Version: %s\n", Version)
	if BuildTime != "unknown" {
		fmt.Printf("🕐 Build time: %s\n", BuildTime)
	}
	if GitCommit != "unknown" {
		fmt.Printf("🔖 Git commit: %s\n", GitCommit)
	}
	fmt.Printf("📋 Chat: POST http://localhost:%d/api/chat\n", envCfg.Port)
	fmt.Printf("📊 Quota: GET http://localhost:%d/api/quota\n", envCfg.Port)
	fmt.Printf("💚 Health: GET http://localhost:%d/health\n", envCfg.Port)
	fmt.Printf("📊 Environment: %s\n", envCfg.Env)
	if envCfg.AdminToken == "" {
		fmt.Printf("🔒 Admin surface disabled (set ADMIN_TOKEN to enable)\n")
	}
	fmt.Printf("\n")

	if err := r.Run(addr); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func quotaLimits(cfg config.QuotaConfig) quota.Limits {
	return quota.Limits{
		MaxDailySessions:        cfg.MaxDailySessions,
		MaxSessionTokens:        cfg.MaxSessionTokens,
		WarningThresholdPercent: cfg.WarningThresholdPercent,
	}
}

func buildGuard(cfg config.PathGuardConfig) *pathguard.Guard {
	return pathguard.New(pathguard.Config{
		SuspiciousPaths:  cfg.SuspiciousPaths,
		ExemptPrefixes:   cfg.ExemptPrefixes,
		ExemptExtensions: cfg.ExemptExtensions,
	})
}

func buildClassifier(cfg config.AgentConfig) *agent.Classifier {
	return agent.New(agent.Config{
		AllowedCrawlers: cfg.AllowedCrawlers,
		BlockedAgents:   cfg.BlockedAgents,
	})
}

func buildDetector(cfg config.InjectionConfig) *security.Detector {
	return security.New(security.Config{
		ForbiddenPatterns:  cfg.ForbiddenPatterns,
		SuspiciousPatterns: cfg.SuspiciousPatterns,
	})
}
