package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, loaded, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded {
		t.Fatal("expected loaded=false for missing file")
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", cfg.Retry.MaxRetries)
	}
	if got := cfg.BaseDelay(); got != time.Second {
		t.Fatalf("BaseDelay = %v, want 1s", got)
	}
	if got := cfg.StalenessThreshold(); got != time.Hour {
		t.Fatalf("StalenessThreshold = %v, want 1h", got)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
data_dir = "/tmp/showreel-test"

[retry]
max_retries = 5
max_delay_ms = 60000

[services.renderer]
base_url = "http://render.example.com/"
callback_url = "http://daemon.example.com/api/webhooks/render"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded {
		t.Fatal("expected loaded=true")
	}
	if cfg.Paths.DataDir != "/tmp/showreel-test" {
		t.Fatalf("DataDir = %q", cfg.Paths.DataDir)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelayMS != 1000 {
		t.Fatalf("BaseDelayMS = %d, want default 1000", cfg.Retry.BaseDelayMS)
	}
	if cfg.Services.Renderer.BaseURL != "http://render.example.com" {
		t.Fatalf("renderer BaseURL = %q, want trailing slash trimmed", cfg.Services.Renderer.BaseURL)
	}
	if cfg.Services.Renderer.CallbackURL == "" {
		t.Fatal("renderer CallbackURL not loaded")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[retry]
base_delay_ms = 0
max_delay_ms = -1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "retry.base_delay_ms") {
		t.Fatalf("error %q does not name the bad key", err)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}

	cfg, loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !loaded {
		t.Fatal("sample config not loaded")
	}
	if cfg.API.Bind != "127.0.0.1:7060" {
		t.Fatalf("sample bind = %q", cfg.API.Bind)
	}
}

func TestValidateMultipleProblems(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = ""
	cfg.Retry.StalenessThresholdMin = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"paths.data_dir", "retry.staleness_threshold_minutes"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q missing %s", err, key)
		}
	}
}
