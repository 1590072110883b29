package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
  rate_per_sec: 20
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: "./habits.db"
reminder:
  enabled: true
  tick: "* * * * *"
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.RatePerSec != 20 {
		t.Errorf("telegram section mismatch: %+v", cfg.Telegram)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("logging section mismatch: %+v", cfg.Logging)
	}
	if !cfg.Reminder.Enabled || cfg.Reminder.Tick != "* * * * *" {
		t.Errorf("reminder section mismatch: %+v", cfg.Reminder)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json",
		`{"telegram":{"token":"t","poll_timeout":"5s"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"storage":{"path":"x"},"reminder":{"enabled":false},"scheduler":{}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("want error for unknown top-level key")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t", PollTimeout: "10s"},
			Logging:  LoggingConfig{Level: "info", Console: true},
			Reminder: ReminderConfig{Enabled: true, Tick: "* * * * *"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "token"},
		{"bad poll timeout", func(c *Config) { c.Telegram.PollTimeout = "soon" }, "poll_timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "level"},
		{"bad tick", func(c *Config) { c.Reminder.Tick = "every minute" }, "tick"},
		{"empty tick ok", func(c *Config) { c.Reminder.Tick = "" }, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
