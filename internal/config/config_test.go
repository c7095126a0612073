package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "correlator.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("default address wrong: %s", cfg.Server.Address)
	}
	if cfg.Correlation.Window != 30*time.Minute {
		t.Fatalf("default window wrong: %s", cfg.Correlation.Window)
	}
	if cfg.Correlation.CandidateCap != 500 {
		t.Fatalf("default cap wrong: %d", cfg.Correlation.CandidateCap)
	}
	if cfg.Store.Retention != 24*time.Hour {
		t.Fatalf("default retention wrong: %s", cfg.Store.Retention)
	}
	if cfg.History.Backend != "memory" || cfg.History.TTL != 72*time.Hour {
		t.Fatalf("default history wrong: %+v", cfg.History)
	}
	if cfg.Notifier.Backend != "log" {
		t.Fatalf("default notifier wrong: %+v", cfg.Notifier)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	doc := `
server:
  address: ":9999"
correlation:
  window: 10m
  candidateCap: 100
history:
  backend: valkey
  addr: localhost:6379
`
	cfg, err := Load(writeConfig(t, doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":9999" {
		t.Fatalf("address override lost: %s", cfg.Server.Address)
	}
	if cfg.Correlation.Window != 10*time.Minute {
		t.Fatalf("window override lost: %s", cfg.Correlation.Window)
	}
	if cfg.Correlation.CandidateCap != 100 {
		t.Fatalf("cap override lost: %d", cfg.Correlation.CandidateCap)
	}
	if cfg.History.Backend != "valkey" || cfg.History.Addr != "localhost:6379" {
		t.Fatalf("history override lost: %+v", cfg.History)
	}
	// Untouched sections keep their defaults.
	if cfg.Correlation.HopLimit != 2 {
		t.Fatalf("unrelated default lost: %d", cfg.Correlation.HopLimit)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CORRELATOR_SERVER_ADDRESS", ":7777")
	t.Setenv("CORRELATOR_CANDIDATE_CAP", "42")
	t.Setenv("CORRELATOR_CORRELATION_BUDGET", "2s")
	t.Setenv("CORRELATOR_HISTORY_BACKEND", "valkey")
	t.Setenv("CORRELATOR_HISTORY_ADDR", "valkey:6379")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Fatalf("env address override lost: %s", cfg.Server.Address)
	}
	if cfg.Correlation.CandidateCap != 42 {
		t.Fatalf("env cap override lost: %d", cfg.Correlation.CandidateCap)
	}
	if cfg.Correlation.Budget != 2*time.Second {
		t.Fatalf("env budget override lost: %s", cfg.Correlation.Budget)
	}
	if cfg.History.Backend != "valkey" || cfg.History.Addr != "valkey:6379" {
		t.Fatalf("env history override lost: %+v", cfg.History)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"zero candidate cap", "correlation:\n  candidateCap: -1\n"},
		{"retention below deployment window", "store:\n  retention: 30m\ncorrelation:\n  deploymentWindow: 1h\n"},
		{"bad history backend", "history:\n  backend: postgres\n"},
		{"bad notifier backend", "notifier:\n  backend: smtp\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.doc)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
