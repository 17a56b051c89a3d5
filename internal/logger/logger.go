package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds log rotation settings
type Config struct {
	// Directory for log files
	LogDir string
	// Log file name (e.g. tripgate.log)
	LogFile string
	// Maximum size of a single log file in MB before rotation
	MaxSize int
	// Maximum number of rotated files to keep
	MaxBackups int
	// Maximum age of rotated files in days
	MaxAge int
	// Compress rotated files
	Compress bool
	// Also write to stdout
	Console bool
}

// DefaultConfig returns the default rotation settings
func DefaultConfig() *Config {
	return &Config{
		LogDir:     "logs",
		LogFile:    "tripgate.log",
		MaxSize:    100, // 100MB
		MaxBackups: 10,
		MaxAge:     30, // 30 days
		Compress:   true,
		Console:    true,
	}
}

// Setup initializes the logging system with file rotation
func Setup(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(cfg.LogDir, cfg.LogFile)
	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var writer io.Writer
	if cfg.Console {
		writer = io.MultiWriter(os.Stdout, rotator)
	} else {
		writer = rotator
	}

	log.SetOutput(writer)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("📝 Logging initialized")
	log.Printf("📂 Log file: %s", logPath)
	log.Printf("📊 Rotation: %dMB per file, %d backups, %d days retention", cfg.MaxSize, cfg.MaxBackups, cfg.MaxAge)

	return nil
}
