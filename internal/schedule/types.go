package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects between the production window allocator and the compressed
// dev/test allocator.
type Mode int

const (
	ModeProduction Mode = iota
	ModeDevTest
)

// Slot is one scheduled wall-clock trigger point, bound to one credential.
// Times are always UTC.
type Slot struct {
	Hour   int
	Minute int
	Second int

	CredentialIndex int

	// Recurring slots (dev/test mode) repeat every Interval instead of once
	// per day.
	Recurring bool
	Interval  time.Duration
}

func (s Slot) String() string {
	if s.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", s.Hour, s.Minute, s.Second)
	}
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// minuteOfDay ignores seconds; the production allocator works in whole minutes.
func (s Slot) minuteOfDay() int { return s.Hour*60 + s.Minute }

// Window is the daily polling window, "HH:MM" in UTC. The window may wrap past
// midnight (End ≤ Start means the window crosses 00:00).
type Window struct {
	Start string
	End   string
}

// SlotPlan is the full input of the allocator. BuildSlots is a pure function
// of this value: same plan, same slots.
type SlotPlan struct {
	CredentialCount int
	RequestsPerDay  int // requests per credential per day
	Window          Window
	Mode            Mode

	// Dev/test mode only: base time for the first slot (first fire is
	// Now+devTestLead) and the spacing between slots.
	Now          time.Time
	TestInterval time.Duration
}

// Total is the rate budget: the number of slots the plan yields per day.
func (p SlotPlan) Total() int { return p.CredentialCount * p.RequestsPerDay }

// Callback is the opaque monitor logic bound to every slot of an entity.
// It must return an executor.RateLimited-marked error when the credential's
// quota is exhausted.
type Callback func(ctx context.Context, entityID string, credentialIndex int) error

// Provider supplies the monitored entities. It is the configuration
// collaborator boundary: the manager never reads config files itself.
type Provider interface {
	MonitoredEntityIDs() []string
	CredentialCount(entityID string) int
	MonitoringEnabled(entityID string) bool
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
