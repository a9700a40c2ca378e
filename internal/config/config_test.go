package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
monitor:
  start_time: "09:00"
  end_time: "23:00"
  requests_per_credential_per_day: 3
  retry:
    max_retries: 3
    initial_delay: 5s
    multiplier: 2
entities:
  - id: acct1
    kind: social
    feed: "example_handle"
    credentials:
      - id: key-a
        api_key: aaa
        api_secret: sss
      - id: key-b
        api_key: bbb
        api_secret: ttt
  - id: btc-price
    kind: prices
    feed: "BTCUSDT"
    threshold: 100000
    enabled: false
    credentials:
      - id: key-c
        api_key: ccc
telegram:
  enabled: false
storage:
  driver: file
  path: ./data/feedwatch
`

func writeConfig(t *testing.T, body string) *Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

func TestLoadAndProvider(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, sampleYAML)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ids := m.MonitoredEntityIDs()
	if len(ids) != 2 || ids[0] != "acct1" || ids[1] != "btc-price" {
		t.Fatalf("MonitoredEntityIDs = %v", ids)
	}
	if got := m.CredentialCount("acct1"); got != 2 {
		t.Fatalf("CredentialCount(acct1) = %d, want 2", got)
	}
	if got := m.CredentialCount("nope"); got != 0 {
		t.Fatalf("CredentialCount(nope) = %d, want 0", got)
	}
	if !m.MonitoringEnabled("acct1") {
		t.Fatal("acct1 should be enabled by default")
	}
	if m.MonitoringEnabled("btc-price") {
		t.Fatal("btc-price is explicitly disabled")
	}

	ms := cfg.MonitorSettings()
	if ms.Window.Start != "09:00" || ms.Window.End != "23:00" {
		t.Fatalf("window = %+v", ms.Window)
	}
	if ms.RequestsPerCredentialPerDay != 3 {
		t.Fatalf("requests/day = %d", ms.RequestsPerCredentialPerDay)
	}
	if ms.Retry.InitialDelay != 5*time.Second || ms.Retry.MaxRetries != 3 {
		t.Fatalf("retry = %+v", ms.Retry)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, sampleYAML+"\nbogus_field: 1\n")
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad window", func(c *Config) { c.Monitor.StartTime = "25:00" }},
		{"zero budget", func(c *Config) { c.Monitor.RequestsPerCredentialPerDay = 0 }},
		{"duplicate entity", func(c *Config) { c.Entities = append(c.Entities, c.Entities[0]) }},
		{"unknown kind", func(c *Config) { c.Entities[0].Kind = "weather" }},
		{"no credentials", func(c *Config) { c.Entities[0].Credentials = nil }},
		{"telegram without token", func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, ChatID: 1} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := writeConfig(t, sampleYAML)
			cfg, err := m.Parse()
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestTestModeSkipsWindowValidation(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, sampleYAML)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Monitor.TestMode = true
	cfg.Monitor.StartTime = ""
	cfg.Monitor.EndTime = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate in test mode: %v", err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, sampleYAML)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := m.Get()
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("published config differs from committed config")
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}
}
