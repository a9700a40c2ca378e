// Package storage persists the small bits of monitor state that should
// survive a restart: seen-item dedup keys (so the same post or announcement is
// never relayed twice) and an append-only audit of slot executions.
//
// Task statistics stay in memory on purpose; this layer is best-effort.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one slot execution, kept for operator forensics.
// Keep it compact and schema-stable.
type RunRecord struct {
	At              time.Time
	EntityID        string
	CredentialIndex int
	Slot            string // "HH:MM[:SS]" UTC
	Attempts        int
	OK              bool
	Error           string
	TookMS          int64
}

// Store is the minimal persistence API used by the monitors.
type Store interface {
	// PutSeen marks key as relayed until the given time; WasSeen reports
	// whether a live (unexpired) mark exists.
	PutSeen(ctx context.Context, key string, until time.Time) error
	WasSeen(ctx context.Context, key string) (bool, error)

	AppendRun(ctx context.Context, r RunRecord) error
	Close() error
}
