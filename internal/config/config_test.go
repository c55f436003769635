package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_MODEL_KEY", "sk-from-env")

	path := writeConfig(t, `
model:
  api_key: ${TEST_MODEL_KEY}
  default: claude-sonnet-4-20250514
memory:
  base_url: https://mem.example
  api_key: mk
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.APIKey != "sk-from-env" {
		t.Errorf("env not expanded: %q", cfg.Model.APIKey)
	}
	// Defaults survive a partial file.
	if cfg.Listen.Port != 8080 || cfg.Model.MaxTurns != 8 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing model.api_key")
	}

	cfg.Model.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Memory.BaseURL = "https://mem.example"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for memory.base_url without api_key")
	}
	cfg.Memory.APIKey = "mk"

	cfg.MQTT.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for mqtt.enabled without broker")
	}
	cfg.MQTT.Broker = "mqtt://broker:1883"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestFindConfigExplicitMustExist(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing explicit path")
	}

	path := writeConfig(t, "log_level: debug\n")
	found, err := FindConfig(path)
	if err != nil || found != path {
		t.Errorf("explicit path not honored: %q, %v", found, err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"trace", LevelTrace, true},
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", 0, false},
	}

	for _, tc := range tests {
		got, err := ParseLogLevel(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseLogLevel(%q) = %v, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseLogLevel(%q): expected error", tc.in)
		}
	}
}
