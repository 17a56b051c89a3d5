package ratelimit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigManager owns the rate limit config file and keeps the in-memory
// view current when the file changes on disk. Reads always return clones;
// the thresholds slice must never be shared with callers.
type ConfigManager struct {
	mu         sync.RWMutex
	config     RateLimitConfig
	configFile string
	watcher    *fsnotify.Watcher
	onChange   func(RateLimitConfig)
}

// NewManager loads the config file (seeding it with defaults when missing)
// and starts watching it for edits.
func NewManager(configFile string) (*ConfigManager, error) {
	cm := &ConfigManager{configFile: configFile}

	if err := cm.load(); err != nil {
		log.Printf("⚠️ Rate limit config file not found, using defaults: %v", err)
		cm.config = cloneConfig(GetDefaultConfig())
		if err := writeConfigFile(cm.configFile, cm.config); err != nil {
			log.Printf("⚠️ Failed to save default rate limit config: %v", err)
		}
	}

	if err := cm.watch(); err != nil {
		log.Printf("⚠️ Failed to start rate limit config watcher: %v", err)
	}

	return cm, nil
}

func (cm *ConfigManager) load() error {
	data, err := os.ReadFile(cm.configFile)
	if err != nil {
		return err
	}

	var config RateLimitConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}
	if err := validate(config); err != nil {
		return err
	}

	cm.mu.Lock()
	cm.config = cloneConfig(config)
	cm.mu.Unlock()

	log.Printf("✅ Rate limit config loaded: API=%d rpm, Admin=%d rpm",
		config.API.RequestsPerMinute, config.Admin.RequestsPerMinute)
	return nil
}

func writeConfigFile(path string, cfg RateLimitConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// watch monitors the config file's directory. The directory, not the file:
// editors and config management tools replace files via rename, and a watch
// on the old inode goes quiet after that.
func (cm *ConfigManager) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	cm.watcher = watcher

	configBase := filepath.Base(cm.configFile)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != configBase {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				log.Printf("📝 Rate limit config file updated, reloading...")
				if err := cm.load(); err != nil {
					log.Printf("⚠️ Failed to reload rate limit config: %v", err)
					continue
				}
				cm.notify()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ Rate limit config watcher error: %v", err)
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(cm.configFile)); err != nil {
		return watcher.Add(cm.configFile)
	}
	return nil
}

func (cm *ConfigManager) notify() {
	cm.mu.RLock()
	cfg := cloneConfig(cm.config)
	cb := cm.onChange
	cm.mu.RUnlock()

	if cb != nil {
		cb(cfg)
	}
}

// SetOnChangeCallback registers the function invoked after every successful
// reload. One callback; the caller fans out to the live limiters.
func (cm *ConfigManager) SetOnChangeCallback(callback func(RateLimitConfig)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onChange = callback
}

// GetConfig returns a clone of the current configuration.
func (cm *ConfigManager) GetConfig() RateLimitConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cloneConfig(cm.config)
}

// UpdateConfig validates the new configuration, persists it, and notifies
// the change callback.
func (cm *ConfigManager) UpdateConfig(config RateLimitConfig) error {
	if err := validate(config); err != nil {
		return err
	}
	if err := writeConfigFile(cm.configFile, config); err != nil {
		return err
	}

	cm.mu.Lock()
	cm.config = cloneConfig(config)
	cm.mu.Unlock()

	log.Printf("✅ Rate limit config updated: API=%d rpm, Admin=%d rpm",
		config.API.RequestsPerMinute, config.Admin.RequestsPerMinute)

	cm.notify()
	return nil
}

// Close stops the file watcher.
func (cm *ConfigManager) Close() error {
	if cm.watcher != nil {
		return cm.watcher.Close()
	}
	return nil
}

// validate enforces sane bounds before a config can take effect. A config
// that fails validation never replaces the running one.
func validate(config RateLimitConfig) error {
	const maxRPM = 10000
	const maxBlockMinutes = 1440

	for _, ep := range []struct {
		name string
		cfg  EndpointRateLimit
	}{
		{"api", config.API},
		{"admin", config.Admin},
	} {
		if ep.cfg.RequestsPerMinute < 0 {
			return fmt.Errorf("%s.requestsPerMinute must be non-negative", ep.name)
		}
		if ep.cfg.RequestsPerMinute > maxRPM {
			return fmt.Errorf("%s.requestsPerMinute cannot exceed %d", ep.name, maxRPM)
		}
	}

	// Thresholds escalate: each step needs more failures than the last.
	for i, threshold := range config.AuthFailure.Thresholds {
		if threshold.Failures <= 0 {
			return fmt.Errorf("authFailure.thresholds[%d].failures must be positive", i)
		}
		if threshold.BlockMinutes <= 0 {
			return fmt.Errorf("authFailure.thresholds[%d].blockMinutes must be positive", i)
		}
		if threshold.BlockMinutes > maxBlockMinutes {
			return fmt.Errorf("authFailure.thresholds[%d].blockMinutes cannot exceed %d", i, maxBlockMinutes)
		}
		if i > 0 && threshold.Failures <= config.AuthFailure.Thresholds[i-1].Failures {
			return fmt.Errorf("authFailure.thresholds must be in ascending order by failures")
		}
	}

	return nil
}

func cloneConfig(cfg RateLimitConfig) RateLimitConfig {
	if cfg.AuthFailure.Thresholds != nil {
		dst := make([]AuthFailureThreshold, len(cfg.AuthFailure.Thresholds))
		copy(dst, cfg.AuthFailure.Thresholds)
		cfg.AuthFailure.Thresholds = dst
	}
	return cfg
}
