package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "config.json", `{"server":{"address":":9090"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.RateLimit.MaxRequests != 100 || cfg.RateLimit.WindowSeconds != 60 {
		t.Fatalf("rate limit defaults = %d/%ds", cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSeconds)
	}
	if cfg.Cache.TTLSeconds != 3600 || cfg.Cache.MaxEntries != 1000 {
		t.Fatalf("cache defaults = %d/%d", cfg.Cache.TTLSeconds, cfg.Cache.MaxEntries)
	}
	if cfg.Billing.Driver != "memory" {
		t.Fatalf("billing driver = %q", cfg.Billing.Driver)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", `
server:
  address: ":7001"
rate_limit:
  max_requests: 5
  window_seconds: 10
auth:
  seeds:
    - key: sk-test
      account_id: acct-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7001" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.RateLimit.MaxRequests != 5 || cfg.RateLimit.WindowSeconds != 10 {
		t.Fatalf("rate limit = %d/%ds", cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSeconds)
	}
	if len(cfg.Auth.Seeds) != 1 || cfg.Auth.Seeds[0].AccountID != "acct-1" {
		t.Fatalf("seeds = %+v", cfg.Auth.Seeds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
