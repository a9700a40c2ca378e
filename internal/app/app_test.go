package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const smokeConfig = `
logging:
  level: error
  console: false
monitor:
  requests_per_credential_per_day: 3
  test_mode: true
  test_interval: 1m
entities:
  - id: acct1
    kind: social
    feed: http://127.0.0.1:1/timeline
    credentials:
      - id: c0
        api_key: k0
      - id: c1
        api_key: k1
storage:
  driver: file
  path: %s
`

func TestAppStartStop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	storePath := filepath.Join(dir, "state", "feedwatch")
	if err := os.WriteFile(cfgPath, []byte(fmt.Sprintf(smokeConfig, storePath)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Idempotent.
	if err := a.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	st := a.Scheduler().Status()
	if !st.Running {
		t.Error("scheduler not running after Start")
	}
	if st.TotalEntities != 1 {
		t.Errorf("TotalEntities = %d, want 1", st.TotalEntities)
	}
	es, ok := st.Entities["acct1"]
	if !ok {
		t.Fatal("acct1 schedule missing")
	}
	// 2 credentials * 3 requests/day, recurring in test mode.
	if es.SlotCount != 6 {
		t.Errorf("SlotCount = %d, want 6", es.SlotCount)
	}
	if es.CredentialCount != 2 {
		t.Errorf("CredentialCount = %d, want 2", es.CredentialCount)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Stop(stopCtx)
	// Idempotent.
	a.Stop(stopCtx)

	if a.Scheduler().Status().Running {
		t.Error("scheduler still running after Stop")
	}
}

func TestAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("monitor: {requests_per_credential_per_day: 0}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := New(cfgPath); err == nil {
		t.Fatal("expected error for invalid config")
	}
	if _, err := New(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
