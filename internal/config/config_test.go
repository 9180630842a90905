package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_RequiresRemoteBaseURL(t *testing.T) {
	os.Unsetenv("REMOTE_BASE_URL")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when REMOTE_BASE_URL is missing")
	}
}

func TestLoad_WithRemoteBaseURL(t *testing.T) {
	os.Setenv("REMOTE_BASE_URL", "https://records.example.com/api")
	defer os.Unsetenv("REMOTE_BASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RemoteBaseURL != "https://records.example.com/api" {
		t.Errorf("expected REMOTE_BASE_URL to be set, got %s", cfg.RemoteBaseURL)
	}

	if cfg.Port != "7380" {
		t.Errorf("expected default port 7380, got %s", cfg.Port)
	}

	if cfg.RemoteFolder != "PatientRecords" {
		t.Errorf("expected default folder PatientRecords, got %s", cfg.RemoteFolder)
	}

	if cfg.Debounce() != 2*time.Second {
		t.Errorf("expected default debounce 2s, got %v", cfg.Debounce())
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{
		RemoteBaseURL:    "https://records.example.com",
		AutosaveDebounce: 2000,
		ProbeIntervalMS:  15000,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.AutosaveDebounce = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero debounce")
	}

	cfg.AutosaveDebounce = 2000
	cfg.RemoteBaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing remote URL")
	}
}

func TestConfig_StorePath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/chartsync"}
	if got := cfg.StorePath(); got != "/var/lib/chartsync/chartsync.db" {
		t.Errorf("unexpected store path: %s", got)
	}
}
