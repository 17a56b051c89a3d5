package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvConfig holds process-level settings read from environment variables
type EnvConfig struct {
	Port       int
	Env        string
	SiteOrigin string // canonical origin for same-origin checks, e.g. https://voyago.app
	AdminToken string // bearer token for the admin surface; empty disables admin routes

	EnableCORS bool
	CORSOrigin string

	EnableRateLimit bool

	TrustedProxies []string // reverse proxy IPs allowed to set forwarding headers

	UpstreamURL     string
	UpstreamTimeout int // milliseconds

	LogLevel string
	// Log file settings
	LogDir        string
	LogFile       string
	LogMaxSize    int  // max size of a single log file (MB)
	LogMaxBackups int  // max number of rotated files to keep
	LogMaxAge     int  // max age of rotated files in days
	LogCompress   bool // compress rotated files
	LogToConsole  bool // also write to stdout
}

// NewEnvConfig reads the environment into an EnvConfig
func NewEnvConfig() *EnvConfig {
	env := getEnv("ENV", "")
	if env == "" {
		env = getEnv("NODE_ENV", "development")
	}

	return &EnvConfig{
		Port:       getEnvAsInt("PORT", 3000),
		Env:        env,
		SiteOrigin: getEnv("SITE_ORIGIN", ""),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		EnableCORS: getEnv("ENABLE_CORS", "true") != "false",
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		EnableRateLimit: getEnv("ENABLE_RATE_LIMIT", "true") != "false",

		TrustedProxies: splitAndTrim(getEnv("TRUSTED_PROXIES", "")),

		UpstreamURL:     getEnv("UPSTREAM_URL", ""),
		UpstreamTimeout: getEnvAsInt("UPSTREAM_TIMEOUT", 60000),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogDir:        getEnv("LOG_DIR", "logs"),
		LogFile:       getEnv("LOG_FILE", "tripgate.log"),
		LogMaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 10),
		LogMaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnv("LOG_COMPRESS", "true") != "false",
		LogToConsole:  getEnv("LOG_TO_CONSOLE", "true") != "false",
	}
}

// IsDevelopment reports whether the process runs in development mode
func (c *EnvConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction reports whether the process runs in production mode
func (c *EnvConfig) IsProduction() bool {
	return c.Env == "production"
}

// ShouldLog reports whether a message at the given level should be logged
func (c *EnvConfig) ShouldLog(level string) bool {
	levels := map[string]int{
		"error": 0,
		"warn":  1,
		"info":  2,
		"debug": 3,
	}

	currentLevel, ok := levels[c.LogLevel]
	if !ok {
		currentLevel = 2 // default info
	}

	requestLevel, ok := levels[level]
	if !ok {
		return false
	}

	return requestLevel <= currentLevel
}

// splitAndTrim splits a comma-separated list, dropping empty entries
func splitAndTrim(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns an environment variable parsed as int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
