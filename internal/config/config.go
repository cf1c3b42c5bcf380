// Package config loads the operator configuration and resolves the standard
// config/data directories.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the operator-facing configuration, read from config.yaml in the
// config directory. Zero values fall back to defaults on load.
type Config struct {
	// StorageDir overrides the conversation storage directory. Empty means
	// <data dir>/conversations.
	StorageDir string `yaml:"storage_dir"`

	BackupIntervalHours int `yaml:"backup_interval_hours"`
	MaxBackups          int `yaml:"max_backups"`
	LockTimeoutSeconds  int `yaml:"lock_timeout_seconds"`

	ChunkWindowMinutes  int  `yaml:"chunk_window_minutes"`
	MaxMessagesPerChunk int  `yaml:"max_messages_per_chunk"`
	ChunkOverlap        bool `yaml:"chunk_overlap"`

	// DocumentMode selects how stored conversations become documents:
	// "message" emits one document per message, "chunk" emits time-window
	// transcripts split by the chunk settings above.
	DocumentMode string `yaml:"document_mode"`

	// FilterMode is "all" or "initial".
	FilterMode string `yaml:"filter_mode"`

	// SelfID is the operator's own sender id, used for is_self tagging.
	SelfID string `yaml:"self_id"`
}

const (
	DocumentModeMessage = "message"
	DocumentModeChunk   = "chunk"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BackupIntervalHours: 24,
		MaxBackups:          10,
		LockTimeoutSeconds:  10,
		ChunkWindowMinutes:  30,
		MaxMessagesPerChunk: 50,
		ChunkOverlap:        true,
		DocumentMode:        DocumentModeMessage,
		FilterMode:          "all",
	}
}

// Load reads config.yaml from the config directory. A missing file is not an
// error: defaults apply. Set fields override defaults individually.
func Load() (Config, error) {
	cfg := Default()

	configDir, err := GetConfigDir()
	if err != nil {
		return cfg, err
	}
	path := filepath.Join(configDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fileCfg fileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	merge(&cfg, fileCfg)
	return cfg, nil
}

// fileConfig mirrors Config with a pointer for the boolean so an omitted key
// is distinguishable from an explicit false.
type fileConfig struct {
	StorageDir          string `yaml:"storage_dir"`
	BackupIntervalHours int    `yaml:"backup_interval_hours"`
	MaxBackups          int    `yaml:"max_backups"`
	LockTimeoutSeconds  int    `yaml:"lock_timeout_seconds"`
	ChunkWindowMinutes  int    `yaml:"chunk_window_minutes"`
	MaxMessagesPerChunk int    `yaml:"max_messages_per_chunk"`
	ChunkOverlap        *bool  `yaml:"chunk_overlap"`
	DocumentMode        string `yaml:"document_mode"`
	FilterMode          string `yaml:"filter_mode"`
	SelfID              string `yaml:"self_id"`
}

func merge(dst *Config, src fileConfig) {
	if src.StorageDir != "" {
		dst.StorageDir = src.StorageDir
	}
	if src.BackupIntervalHours > 0 {
		dst.BackupIntervalHours = src.BackupIntervalHours
	}
	if src.MaxBackups > 0 {
		dst.MaxBackups = src.MaxBackups
	}
	if src.LockTimeoutSeconds > 0 {
		dst.LockTimeoutSeconds = src.LockTimeoutSeconds
	}
	if src.ChunkWindowMinutes > 0 {
		dst.ChunkWindowMinutes = src.ChunkWindowMinutes
	}
	if src.MaxMessagesPerChunk > 0 {
		dst.MaxMessagesPerChunk = src.MaxMessagesPerChunk
	}
	if src.ChunkOverlap != nil {
		dst.ChunkOverlap = *src.ChunkOverlap
	}
	if src.DocumentMode != "" {
		dst.DocumentMode = src.DocumentMode
	}
	if src.FilterMode != "" {
		dst.FilterMode = src.FilterMode
	}
	if src.SelfID != "" {
		dst.SelfID = src.SelfID
	}
}

// BackupInterval returns the automatic backup cadence.
func (c Config) BackupInterval() time.Duration {
	return time.Duration(c.BackupIntervalHours) * time.Hour
}

// LockTimeout returns the file lock acquisition bound.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// ChunkGap returns the time-window threshold for chunking.
func (c Config) ChunkGap() time.Duration {
	return time.Duration(c.ChunkWindowMinutes) * time.Minute
}

// ConversationsDir resolves the conversation storage directory.
func (c Config) ConversationsDir() (string, error) {
	if c.StorageDir != "" {
		return c.StorageDir, nil
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "conversations"), nil
}

// BackupsDir resolves the snapshot directory next to the conversation store.
func (c Config) BackupsDir() (string, error) {
	dir, err := c.ConversationsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "backups"), nil
}

// StateDBPath resolves the cursor database path.
func StateDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "recall.db"), nil
}

// GetConfigDir returns the recall config directory.
func GetConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve config directory: %w", err)
	}
	return filepath.Join(base, "recall"), nil
}

// GetDataDir returns the recall data directory.
func GetDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "recall"), nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "recall"), nil
	}
	return filepath.Join(home, ".local", "share", "recall"), nil
}
