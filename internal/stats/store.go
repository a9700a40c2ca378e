// Package stats keeps in-memory per-task run counters for the scheduler.
//
// Entries are diagnostic, not authoritative: they are lost on restart and are
// pruned by age via Cleanup.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TimeOfDay identifies the wall-clock slot a task belongs to (UTC).
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Key identifies one scheduled task: entity, credential and slot time.
// It is comparable, so it can be used directly as a map key; no string
// concatenation or parsing is involved.
type Key struct {
	EntityID        string
	CredentialIndex int
	Slot            TimeOfDay
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%d-%s", k.EntityID, k.CredentialIndex, k.Slot)
}

// Entry holds counters for one task.
//
// Invariant once a run has settled: TotalRuns == SuccessCount + FailureCount.
type Entry struct {
	Key          Key
	TotalRuns    int
	SuccessCount int
	FailureCount int
	LastRun      time.Time
	LastSuccess  time.Time
	LastFailure  time.Time
	LastError    string
}

type Store struct {
	mu  sync.Mutex
	m   map[Key]*Entry
	now func() time.Time
}

func NewStore() *Store {
	return &Store{m: map[Key]*Entry{}, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) entryLocked(k Key) *Entry {
	e := s.m[k]
	if e == nil {
		e = &Entry{Key: k}
		s.m[k] = e
	}
	return e
}

// RecordStart marks the beginning of a run. TotalRuns counts starts; a settled
// run always follows with exactly one RecordSuccess or RecordFailure.
func (s *Store) RecordStart(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(k)
	e.TotalRuns++
	e.LastRun = s.now()
}

func (s *Store) RecordSuccess(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(k)
	e.SuccessCount++
	e.LastSuccess = s.now()
}

func (s *Store) RecordFailure(k Key, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(k)
	e.FailureCount++
	e.LastFailure = s.now()
	e.LastError = errMsg
}

// Get returns a copy of the entry for k, and whether it exists.
func (s *Store) Get(k Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[k]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns copies of all entries, optionally filtered by entity id.
// Entries are sorted by key for stable output.
func (s *Store) All(entityID string) []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.m))
	for k, e := range s.m {
		if entityID != "" && k.EntityID != entityID {
			continue
		}
		out = append(out, *e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Cleanup removes entries whose last run predates now-maxAge and returns the
// number removed. Entries that never ran (start not yet recorded) are kept.
func (s *Store) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for k, e := range s.m {
		if !e.LastRun.IsZero() && e.LastRun.Before(cutoff) {
			delete(s.m, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
