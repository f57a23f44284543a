package cfg

import (
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}

	version := GetVersion()
	if version != "dev" && version != "unknown" {
		// Version could be set at build time
		t.Logf("Version: %s", version)
	}
}

func TestLoadArgsDefaults(t *testing.T) {
	cfg, err := LoadArgs([]string{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.DBPath != "./data/catalog.db" {
		t.Errorf("Expected default db path './data/catalog.db', got '%s'", cfg.DBPath)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port '8080', got '%s'", cfg.Port)
	}
	if cfg.RequestTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected request timeout 10s, got %v", cfg.RequestTimeoutDuration())
	}
	if !cfg.EpgAbbreviationMatch {
		t.Error("Expected abbreviation matching to be enabled by default")
	}
	if cfg.RedisURL != "" {
		t.Errorf("Expected empty redis url, got '%s'", cfg.RedisURL)
	}

	if Get() != cfg {
		t.Error("Expected Get to return the loaded configuration")
	}
}

func TestLoadArgsOverrides(t *testing.T) {
	cfg, err := LoadArgs([]string{
		"--db-path", "/tmp/test.db",
		"--worker-count", "4",
		"--rate-limit", "0",
		"--no-epg-abbreviation-match",
		"--debug",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("Expected db path '/tmp/test.db', got '%s'", cfg.DBPath)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("Expected worker count 4, got %d", cfg.WorkerCount)
	}
	if cfg.RateLimit != 0 {
		t.Errorf("Expected rate limit 0, got %v", cfg.RateLimit)
	}
	if cfg.EpgAbbreviationMatch {
		t.Error("Expected abbreviation matching to be disabled")
	}
	if !cfg.Debug {
		t.Error("Expected debug to be enabled")
	}
}

func TestLoadArgsValidation(t *testing.T) {
	if _, err := LoadArgs([]string{"--worker-count", "0"}); err == nil {
		t.Error("Expected error for zero worker count")
	}
	if _, err := LoadArgs([]string{"--rate-limit", "-1"}); err == nil {
		t.Error("Expected error for negative rate limit")
	}
}
