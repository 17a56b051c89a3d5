package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PathGuardConfig holds the path policy lists
type PathGuardConfig struct {
	SuspiciousPaths  []string `json:"suspiciousPaths"`
	ExemptPrefixes   []string `json:"exemptPrefixes"`
	ExemptExtensions []string `json:"exemptExtensions"`
}

// AgentConfig holds the user-agent token lists
type AgentConfig struct {
	AllowedCrawlers []string `json:"allowedCrawlers"`
	BlockedAgents   []string `json:"blockedAgents"`
}

// InjectionConfig holds the prompt-injection pattern tables
type InjectionConfig struct {
	ForbiddenPatterns  []string `json:"forbiddenPatterns"`
	SuspiciousPatterns []string `json:"suspiciousPatterns"`
}

// QuotaConfig holds per-client usage limits
type QuotaConfig struct {
	MaxDailySessions        int     `json:"maxDailySessions"`
	MaxSessionTokens        int     `json:"maxSessionTokens"`
	WarningThresholdPercent float64 `json:"warningThresholdPercent"`
}

// SecurityConfig is the root admission-policy configuration
type SecurityConfig struct {
	PathGuard PathGuardConfig `json:"pathGuard"`
	Agent     AgentConfig     `json:"agent"`
	Injection InjectionConfig `json:"injection"`
	Quota     QuotaConfig     `json:"quota"`
}

// GetDefaultSecurityConfig returns the built-in admission policy
func GetDefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		PathGuard: PathGuardConfig{
			SuspiciousPaths: []string{
				"/wp-admin", "/wp-login", "/phpmyadmin", "/xmlrpc",
				".env", ".git", ".htaccess", ".ssh",
				"/admin.php", "/setup.php", "/install.php",
				".bak", ".backup", ".sql",
				"/debug", "/actuator", "/console",
			},
			ExemptPrefixes: []string{
				"/assets/", "/static/", "/_next/", "/favicon",
				"/robots.txt", "/sitemap.xml", "/health",
			},
			ExemptExtensions: []string{
				".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif",
				".svg", ".ico", ".webp", ".woff", ".woff2", ".ttf",
			},
		},
		Agent: AgentConfig{
			AllowedCrawlers: []string{
				"googlebot", "bingbot", "duckduckbot", "slurp",
				"facebookexternalhit", "twitterbot", "linkedinbot", "whatsapp",
			},
			BlockedAgents: []string{
				"curl", "wget", "python-requests", "python-urllib", "go-http-client",
				"java/", "okhttp", "axios", "node-fetch",
				"headlesschrome", "phantomjs", "selenium", "playwright", "puppeteer",
				"scrapy", "httpclient",
				"bot", "crawler", "spider", "scraper",
				"gptbot", "ccbot", "claudebot", "bytespider", "petalbot",
			},
		},
		Injection: InjectionConfig{
			ForbiddenPatterns: []string{
				"ignore previous", "ignore all previous", "system:", "assistant:",
				"forget your", "pretend you are", "act as if",
				"override instructions", "bypass restrictions",
				"reveal your prompt", "show system message",
				"disregard above", "new instructions:",
				"[[instructions]]", "{{system}}",
			},
			SuspiciousPatterns: []string{
				"jailbreak", "hack", "exploit", "injection", "malicious", "evil",
			},
		},
		Quota: QuotaConfig{
			MaxDailySessions:        5,
			MaxSessionTokens:        2500,
			WarningThresholdPercent: 0.8,
		},
	}
}

// SecurityManager manages the admission policy with hot-reload support
type SecurityManager struct {
	mu         sync.RWMutex
	config     SecurityConfig
	configFile string
	watcher    *fsnotify.Watcher
	onChange   func(SecurityConfig) // callback when config changes
}

// NewSecurityManager loads the admission policy from configFile, writing
// the defaults there when the file does not exist yet, and starts a file
// watcher for hot reload.
func NewSecurityManager(configFile string) (*SecurityManager, error) {
	sm := &SecurityManager{
		configFile: configFile,
	}

	if err := sm.loadConfig(); err != nil {
		log.Printf("⚠️ Security config file not found, using defaults: %v", err)
		sm.config = cloneSecurityConfig(GetDefaultSecurityConfig())
		if err := sm.saveConfig(); err != nil {
			log.Printf("⚠️ Failed to save default security config: %v", err)
		}
	}

	if err := sm.startWatcher(); err != nil {
		log.Printf("⚠️ Failed to start security config watcher: %v", err)
	}

	return sm, nil
}

// loadConfig loads configuration from file
func (sm *SecurityManager) loadConfig() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := os.ReadFile(sm.configFile)
	if err != nil {
		return err
	}

	var config SecurityConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	if err := validateSecurityConfig(config); err != nil {
		return err
	}

	sm.config = cloneSecurityConfig(config)
	log.Printf("✅ Security config loaded: %d suspicious paths, %d blocked agents, %d forbidden patterns",
		len(config.PathGuard.SuspiciousPaths), len(config.Agent.BlockedAgents), len(config.Injection.ForbiddenPatterns))
	return nil
}

// saveConfig saves configuration to file
func (sm *SecurityManager) saveConfig() error {
	dir := filepath.Dir(sm.configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	sm.mu.RLock()
	cfg := cloneSecurityConfig(sm.config)
	sm.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(sm.configFile, data, 0644)
}

// startWatcher starts file change monitoring
func (sm *SecurityManager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	sm.watcher = watcher

	configBase := filepath.Base(sm.configFile)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// We watch the directory; ignore unrelated files.
				if filepath.Base(event.Name) != configBase {
					continue
				}

				// Many editors update files via atomic rename/create, not only Write.
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Printf("📝 Security config file updated, reloading...")
					if err := sm.loadConfig(); err != nil {
						log.Printf("⚠️ Failed to reload security config: %v", err)
						continue
					}

					sm.mu.RLock()
					cfg := cloneSecurityConfig(sm.config)
					cb := sm.onChange
					sm.mu.RUnlock()

					if cb != nil {
						cb(cfg)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ Security config watcher error: %v", err)
			}
		}
	}()

	// Watch the config file's directory to handle file creation
	dir := filepath.Dir(sm.configFile)
	if err := watcher.Add(dir); err != nil {
		// Try watching the file directly if directory watch fails
		return watcher.Add(sm.configFile)
	}
	return nil
}

// SetOnChangeCallback sets a callback function to be called when config changes
func (sm *SecurityManager) SetOnChangeCallback(callback func(SecurityConfig)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onChange = callback
}

// GetConfig returns the current configuration
func (sm *SecurityManager) GetConfig() SecurityConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return cloneSecurityConfig(sm.config)
}

// GetPathGuardConfig returns the path policy section
func (sm *SecurityManager) GetPathGuardConfig() PathGuardConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return clonePathGuardConfig(sm.config.PathGuard)
}

// GetAgentConfig returns the user-agent policy section
func (sm *SecurityManager) GetAgentConfig() AgentConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return AgentConfig{
		AllowedCrawlers: cloneStrings(sm.config.Agent.AllowedCrawlers),
		BlockedAgents:   cloneStrings(sm.config.Agent.BlockedAgents),
	}
}

// GetInjectionConfig returns the injection pattern section
func (sm *SecurityManager) GetInjectionConfig() InjectionConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return InjectionConfig{
		ForbiddenPatterns:  cloneStrings(sm.config.Injection.ForbiddenPatterns),
		SuspiciousPatterns: cloneStrings(sm.config.Injection.SuspiciousPatterns),
	}
}

// GetQuotaConfig returns the quota limits section
func (sm *SecurityManager) GetQuotaConfig() QuotaConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.config.Quota
}

// UpdateConfig updates the configuration and saves to file
func (sm *SecurityManager) UpdateConfig(config SecurityConfig) error {
	if err := validateSecurityConfig(config); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(sm.configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(sm.configFile, data, 0644); err != nil {
		return err
	}

	sm.mu.Lock()
	sm.config = cloneSecurityConfig(config)
	cb := sm.onChange
	cfg := cloneSecurityConfig(sm.config)
	sm.mu.Unlock()

	log.Printf("✅ Security config updated: %d suspicious paths, %d blocked agents, %d forbidden patterns",
		len(config.PathGuard.SuspiciousPaths), len(config.Agent.BlockedAgents), len(config.Injection.ForbiddenPatterns))

	if cb != nil {
		cb(cfg)
	}

	return nil
}

// Close closes the config manager and stops the file watcher
func (sm *SecurityManager) Close() error {
	if sm.watcher != nil {
		return sm.watcher.Close()
	}
	return nil
}

func validateSecurityConfig(config SecurityConfig) error {
	if config.Quota.MaxDailySessions <= 0 {
		return fmt.Errorf("quota.maxDailySessions must be positive")
	}
	if config.Quota.MaxSessionTokens <= 0 {
		return fmt.Errorf("quota.maxSessionTokens must be positive")
	}
	if config.Quota.WarningThresholdPercent <= 0 || config.Quota.WarningThresholdPercent >= 1 {
		return fmt.Errorf("quota.warningThresholdPercent must be between 0 and 1")
	}
	if len(config.Injection.ForbiddenPatterns) == 0 {
		return fmt.Errorf("injection.forbiddenPatterns must not be empty")
	}
	return nil
}

func cloneSecurityConfig(cfg SecurityConfig) SecurityConfig {
	cfg.PathGuard = clonePathGuardConfig(cfg.PathGuard)
	cfg.Agent.AllowedCrawlers = cloneStrings(cfg.Agent.AllowedCrawlers)
	cfg.Agent.BlockedAgents = cloneStrings(cfg.Agent.BlockedAgents)
	cfg.Injection.ForbiddenPatterns = cloneStrings(cfg.Injection.ForbiddenPatterns)
	cfg.Injection.SuspiciousPatterns = cloneStrings(cfg.Injection.SuspiciousPatterns)
	return cfg
}

func clonePathGuardConfig(cfg PathGuardConfig) PathGuardConfig {
	cfg.SuspiciousPaths = cloneStrings(cfg.SuspiciousPaths)
	cfg.ExemptPrefixes = cloneStrings(cfg.ExemptPrefixes)
	cfg.ExemptExtensions = cloneStrings(cfg.ExemptExtensions)
	return cfg
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	dst := make([]string, len(in))
	copy(dst, in)
	return dst
}
