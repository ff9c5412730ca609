package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api"`

	// Storage paths
	Storage StorageConfig `json:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync"`

	// Logging
	Log LogConfig `json:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `json:"base_url"`
	Token      string        `json:"token,omitempty"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	UserAgent  string        `json:"user_agent"`
}

// StorageConfig for local paths.
type StorageConfig struct {
	DataDir string `json:"data_dir"` // Base directory for all data
	DBPath  string `json:"db_path"`  // SQLite database file
	LockDir string `json:"lock_dir"` // Cross-context lock files
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	YieldEvery       int           `json:"yield_every"`       // Items between cooperative yields
	LockTimeout      time.Duration `json:"lock_timeout"`      // Bound on lock acquisition
	AutoSync         bool          `json:"auto_sync"`         // Schedule background syncs
	PeriodicInterval time.Duration `json:"periodic_interval"` // Background sync cadence
	InlineWorker     bool          `json:"inline_worker"`     // Run the engine in the caller's context
	EventBuffer      int           `json:"event_buffer"`      // Per-run message channel capacity
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
	File   string `json:"file"`   // Log file path (empty = stdout)
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".marksync"

	return &Config{
		API: APIConfig{
			BaseURL:    "http://localhost:8000",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "marksync/1.0",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			DBPath:  filepath.Join(dataDir, "marksync.db"),
			LockDir: filepath.Join(dataDir, "locks"),
		},
		Sync: SyncConfig{
			YieldEvery:       5,
			LockTimeout:      30 * time.Second,
			AutoSync:         true,
			PeriodicInterval: 15 * time.Minute,
			EventBuffer:      64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.Sync.YieldEvery <= 0 {
		return errors.New("sync.yield_every must be positive")
	}

	if c.Sync.LockTimeout <= 0 {
		return errors.New("sync.lock_timeout must be positive")
	}

	if c.Sync.EventBuffer <= 0 {
		return errors.New("sync.event_buffer must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.LockDir,
		filepath.Dir(c.Storage.DBPath),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
