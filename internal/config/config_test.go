package config

import (
	"path/filepath"
	"testing"
)

func TestLoadFallsBackToDefaultsWhenNoConfigFile(t *testing.T) {
	t.Setenv("CIS_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.Storage.MaxAttached != want.Storage.MaxAttached {
		t.Fatalf("Storage.MaxAttached = %d, want %d", cfg.Storage.MaxAttached, want.Storage.MaxAttached)
	}
	if cfg.Federation.Port != want.Federation.Port {
		t.Fatalf("Federation.Port = %d, want %d", cfg.Federation.Port, want.Federation.Port)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Setenv("CIS_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Node.ID = "node-under-test"
	cfg.Federation.Port = 9001

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Node.ID != "node-under-test" {
		t.Fatalf("Node.ID = %q, want %q", loaded.Node.ID, "node-under-test")
	}
	if loaded.Federation.Port != 9001 {
		t.Fatalf("Federation.Port = %d, want 9001", loaded.Federation.Port)
	}
}

func TestLoadRejectsInvalidStoredConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CIS_HOME", home)

	cfg := DefaultConfig()
	cfg.Storage.MaxAttached = 99 // outside the validated [1,10] range
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to reject a stored config with Storage.MaxAttached out of range")
	}
}

func TestValidateChecksEverySection(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate cleanly: %v", err)
	}

	bad := DefaultConfig()
	bad.Security.Argon2TimeCost = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected Validate to reject Argon2TimeCost == 0")
	}

	bad = DefaultConfig()
	bad.Vector.Dimensions = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected Validate to reject Vector.Dimensions == 0")
	}
}

func TestHomeRespectsCISHomeEnvVar(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CIS_HOME", dir)

	if got := Home(); got != dir {
		t.Fatalf("Home() = %q, want %q", got, dir)
	}
	if got := filepath.Dir(DefaultConfig().Security.KeyFile); got != filepath.Join(dir, "keys") {
		t.Fatalf("DefaultConfig key dir = %q, want %q", got, filepath.Join(dir, "keys"))
	}
}
