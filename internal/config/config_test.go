package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(0, 4)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate, got: %v", err)
	}
}

func TestRuntimeConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*RuntimeConfig)
		wantErr bool
	}{
		{"valid", func(c *RuntimeConfig) {}, false},
		{"zero size", func(c *RuntimeConfig) { c.Size = 0 }, true},
		{"negative rank", func(c *RuntimeConfig) { c.Rank = -1 }, true},
		{"rank out of range", func(c *RuntimeConfig) { c.Rank = 4 }, true},
		{"unknown sync mode", func(c *RuntimeConfig) { c.Sync.Mode = "bogus" }, true},
		{"zero send buffer", func(c *RuntimeConfig) { c.Transport.SendBufferSize = 0 }, true},
		{"zero fanout", func(c *RuntimeConfig) { c.Transport.CollectiveFanout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(0, 4)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoad_AppliesDefaultsToPartialYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "rank: 1\nsize: 3\nsync:\n  mode: hard\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Rank != 1 || cfg.Size != 3 {
		t.Errorf("Rank/Size = %d/%d, want 1/3", cfg.Rank, cfg.Size)
	}
	if cfg.Sync.Mode != SyncModeHard {
		t.Errorf("Sync.Mode = %s, want hard", cfg.Sync.Mode)
	}
	if cfg.Transport.SendBufferSize == 0 {
		t.Error("expected default transport.send_buffer_size to be applied")
	}
	if cfg.Sync.Hard.MutexQueueDepth == 0 {
		t.Error("expected default sync.hard.mutex_queue_depth to be applied")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("rank: [this is not valid"), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}
