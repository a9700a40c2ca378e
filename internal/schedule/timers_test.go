package schedule

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Later today.
	at := nextOccurrence(now, Slot{Hour: 15, Minute: 30})
	if want := time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("nextOccurrence = %v, want %v", at, want)
	}
	// Already passed: tomorrow.
	at = nextOccurrence(now, Slot{Hour: 9, Minute: 0})
	if want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("nextOccurrence = %v, want %v", at, want)
	}
}

func TestFirstFireSchedule(t *testing.T) {
	t.Parallel()
	first := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	s := &firstFireSchedule{base: cron.Every(5 * time.Minute), first: first}

	before := first.Add(-time.Hour)
	if got := s.Next(before); !got.Equal(first) {
		t.Fatalf("Next before first = %v, want %v", got, first)
	}
	// After the first fire it delegates to the interval schedule.
	after := first.Add(time.Second)
	got := s.Next(after)
	if !got.After(after) || got.Sub(after) > 5*time.Minute+time.Second {
		t.Fatalf("Next after first = %v, not within one interval of %v", got, after)
	}
}

func TestCronTimersRegisterDailySpec(t *testing.T) {
	t.Parallel()
	ct := newCronTimers()
	h, err := ct.Register(Slot{Hour: 9, Minute: 30}, func() {})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if h == 0 {
		t.Fatal("zero handle")
	}
	// Entry is armed but not started; Times is still resolvable after Start.
	ct.Start()
	defer ct.Stop()
	next, _ := ct.Times(h)
	if next.IsZero() {
		t.Fatal("no next fire time")
	}
	if next.Hour() != 9 || next.Minute() != 30 {
		t.Fatalf("next fire = %v, want 09:30 UTC", next)
	}
}
