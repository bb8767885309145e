package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
)

func TestConfig_Validate(t *testing.T) {
	// Helper to get a valid base config for testing
	newValidConfig := func(t *testing.T) Config {
		cfg := NewDefault()
		cfg.Root = t.TempDir()
		return cfg
	}

	t.Run("Valid Config", func(t *testing.T) {
		cfg := newValidConfig(t)
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config to pass validation, but got error: %v", err)
		}
	})

	t.Run("Empty Root", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Root = ""
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for empty root, but got nil")
		}
	})

	t.Run("Invalid Choices", func(t *testing.T) {
		mutations := map[string]func(*Config){
			"execChange":          func(c *Config) { c.ExecChange = "sometimes" },
			"symlinkSupport":      func(c *Config) { c.SymlinkSupport = "maybe" },
			"conflictMarkerStyle": func(c *Config) { c.ConflictMarkerStyle = "fancy" },
			"fsmonitor":           func(c *Config) { c.Fsmonitor = "watchman" },
			"logLevel":            func(c *Config) { c.LogLevel = "loud" },
		}
		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				cfg := newValidConfig(t)
				mutate(&cfg)
				if err := cfg.Validate(); err == nil {
					t.Errorf("expected error for invalid %s, but got nil", name)
				}
			})
		}
	})

	t.Run("Choices Are Case Insensitive", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.ExecChange = "Respect"
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, but got: %v", err)
		}
	})

	t.Run("Negative Max File Size", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Snapshot.MaxNewFileSize = -1
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for negative maxNewFileSize, but got nil")
		}
	})

	t.Run("Zero Workers Defaults", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Snapshot.Workers = 0
		if err := cfg.Validate(); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if cfg.Snapshot.Workers <= 0 {
			t.Errorf("expected workers to default to a positive number, but got %d", cfg.Snapshot.Workers)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("Missing File Returns Defaults", func(t *testing.T) {
		root := t.TempDir()
		cfg, err := Load(root)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if cfg.ExecChange != "auto" || cfg.Snapshot.MaxNewFileSize != 1<<20 {
			t.Errorf("expected defaults, but got %+v", cfg)
		}
		if cfg.Root != root {
			t.Errorf("expected root %q, but got %q", root, cfg.Root)
		}
	})

	t.Run("Generate Then Load", func(t *testing.T) {
		root := t.TempDir()
		cfg := NewDefault()
		cfg.Root = root
		cfg.ConflictMarkerStyle = "snapshot"
		cfg.Snapshot.MaxNewFileSize = 4096
		if err := Generate(cfg); err != nil {
			t.Fatalf("Generate() failed: %v", err)
		}
		loaded, err := Load(root)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if loaded.ConflictMarkerStyle != "snapshot" || loaded.Snapshot.MaxNewFileSize != 4096 {
			t.Errorf("expected generated values, but got %+v", loaded)
		}
	})

	t.Run("Partial File Keeps Defaults", func(t *testing.T) {
		root := t.TempDir()
		repoDir := filepath.Join(root, RepoDirName)
		if err := os.MkdirAll(repoDir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(repoDir, ConfigFileName), []byte(`{"execChange":"ignore"}`), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(root)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if cfg.ExecChange != "ignore" {
			t.Errorf("expected execChange %q, but got %q", "ignore", cfg.ExecChange)
		}
		if !cfg.Snapshot.AutoTrack {
			t.Error("expected autoTrack to keep its default")
		}
	})

	t.Run("Corrupt File", func(t *testing.T) {
		root := t.TempDir()
		repoDir := filepath.Join(root, RepoDirName)
		if err := os.MkdirAll(repoDir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(repoDir, ConfigFileName), []byte("{invalid"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(root); err == nil {
			t.Error("expected an error for a corrupt config, but got nil")
		}
	})
}

func TestMergeConfigWithFlags(t *testing.T) {
	base := NewDefault()
	merged := MergeConfigWithFlags(flagparse.Snapshot, base, map[string]any{
		"max-new-file-size": int64(10),
		"auto-track":        false,
		"check-invariants":  true,
		"tree":              "ignored",
	})
	if merged.Snapshot.MaxNewFileSize != 10 {
		t.Errorf("expected 10, but got %d", merged.Snapshot.MaxNewFileSize)
	}
	if merged.Snapshot.AutoTrack {
		t.Error("expected auto-track to be overridden")
	}
	if !merged.CheckInvariants {
		t.Error("expected check-invariants for snapshot")
	}

	merged = MergeConfigWithFlags(flagparse.Checkout, base, map[string]any{"check-invariants": true})
	if merged.CheckInvariants {
		t.Error("expected check-invariants to be ignored for checkout")
	}
}
