package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("config dir override relies on XDG_CONFIG_HOME")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "recall"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "recall", "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("config dir override relies on XDG_CONFIG_HOME")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesIndividualFields(t *testing.T) {
	writeConfig(t, "max_backups: 3\nfilter_mode: initial\ndocument_mode: chunk\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxBackups != 3 {
		t.Errorf("max backups = %d, want 3", cfg.MaxBackups)
	}
	if cfg.FilterMode != "initial" {
		t.Errorf("filter mode = %q, want initial", cfg.FilterMode)
	}
	if cfg.DocumentMode != DocumentModeChunk {
		t.Errorf("document mode = %q, want chunk", cfg.DocumentMode)
	}
	// Unset fields keep their defaults.
	if cfg.BackupIntervalHours != Default().BackupIntervalHours {
		t.Errorf("backup interval = %d, want default", cfg.BackupIntervalHours)
	}
	if !cfg.ChunkOverlap {
		t.Error("omitted chunk_overlap must keep the default")
	}
}

func TestLoadExplicitFalseOverlap(t *testing.T) {
	writeConfig(t, "chunk_overlap: false\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkOverlap {
		t.Error("explicit chunk_overlap: false must be honored")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.BackupInterval() != 24*time.Hour {
		t.Errorf("backup interval = %v", cfg.BackupInterval())
	}
	if cfg.LockTimeout() != 10*time.Second {
		t.Errorf("lock timeout = %v", cfg.LockTimeout())
	}
	if cfg.ChunkGap() != 30*time.Minute {
		t.Errorf("chunk gap = %v", cfg.ChunkGap())
	}
}
