package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"feedwatch/internal/executor"
	"feedwatch/internal/stats"
	logx "feedwatch/pkg/logx"
)

// Config holds the monitor settings driving slot allocation.
type Config struct {
	Window                      Window
	RequestsPerCredentialPerDay int
	TestMode                    bool
	TestInterval                time.Duration

	// Retry is the policy applied to every slot execution.
	Retry executor.Options
}

// Manager orchestrates per-entity sets of scheduled jobs built from allocator
// output. It is constructed explicitly and passed where needed; there is no
// package-level instance.
//
// Control-plane calls (Start/Stop/Reload) are expected to come from a single
// orchestrator; the running flag gates them but is not a mutex for concurrent
// lifecycle callers. Overlapping slot executions for the same entity are
// permitted (independent timers, no serialization).
type Manager struct {
	mu sync.Mutex

	cfg      Config
	log      logx.Logger
	provider Provider
	exec     *executor.Executor
	stats    *stats.Store
	timers   TimerPort
	now      func() time.Time

	running  bool
	entities map[string]*entitySchedule

	// baseCtx is deliberately detached from Stop: stopping cancels pending
	// timers but lets in-flight retry runs finish.
	baseCtx context.Context
}

type scheduledTask struct {
	slot   Slot
	handle TimerHandle
}

type entitySchedule struct {
	id        string
	credCount int
	slots     []Slot
	tasks     []scheduledTask
	createdAt time.Time
	active    bool
}

// NewManager wires the scheduling core. A nil timers port gets the cron-backed
// default.
func NewManager(cfg Config, provider Provider, exec *executor.Executor, st *stats.Store, timers TimerPort, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if timers == nil {
		timers = newCronTimers()
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		provider: provider,
		exec:     exec,
		stats:    st,
		timers:   timers,
		now:      time.Now,
		entities: map[string]*entitySchedule{},
		baseCtx:  context.Background(),
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Apply swaps the monitor settings. Takes effect on the next
// CreateEntitySchedule/Reload; running schedules are untouched.
func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// CreateEntitySchedule computes the entity's slots and arms one timer per
// slot. Re-creating a schedule for an already-scheduled entity tears down the
// old one first. It returns false, leaving other entities untouched, when the
// entity is disabled, its plan is invalid, or timer registration fails.
func (m *Manager) CreateEntitySchedule(entityID string, cb Callback) bool {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" || cb == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.provider.MonitoringEnabled(entityID) {
		m.log.Debug("entity monitoring disabled; not scheduling", logx.String("entity", entityID))
		return false
	}

	plan := SlotPlan{
		CredentialCount: m.provider.CredentialCount(entityID),
		RequestsPerDay:  m.cfg.RequestsPerCredentialPerDay,
		Window:          m.cfg.Window,
		Now:             m.now(),
		TestInterval:    m.cfg.TestInterval,
	}
	if m.cfg.TestMode {
		plan.Mode = ModeDevTest
	}
	slots, err := BuildSlots(plan)
	if err != nil {
		m.log.Warn("entity schedule rejected",
			logx.String("entity", entityID),
			logx.Int("credentials", plan.CredentialCount),
			logx.Int("requests_per_day", plan.RequestsPerDay),
			logx.Any("err", err))
		return false
	}

	m.teardownLocked(entityID)

	es := &entitySchedule{
		id:        entityID,
		credCount: plan.CredentialCount,
		slots:     slots,
		createdAt: m.now(),
	}
	for _, s := range slots {
		h, err := m.timers.Register(s, m.slotHandler(entityID, s, cb))
		if err != nil {
			m.log.Error("slot register failed",
				logx.String("entity", entityID),
				logx.String("slot", s.String()),
				logx.Any("err", err))
			for _, t := range es.tasks {
				m.timers.Cancel(t.handle)
			}
			return false
		}
		es.tasks = append(es.tasks, scheduledTask{slot: s, handle: h})
	}
	es.active = true
	m.entities[entityID] = es

	m.log.Info("entity schedule created",
		logx.String("entity", entityID),
		logx.Int("slots", len(slots)),
		logx.Int("credentials", plan.CredentialCount),
		logx.Bool("test_mode", m.cfg.TestMode))
	return true
}

// slotHandler builds the per-slot trigger: log, run through the retry
// executor, let the executor settle the stats record. Nothing escapes it.
func (m *Manager) slotHandler(entityID string, s Slot, cb Callback) func() {
	key := stats.Key{
		EntityID:        entityID,
		CredentialIndex: s.CredentialIndex,
		Slot:            stats.TimeOfDay{Hour: s.Hour, Minute: s.Minute, Second: s.Second},
	}
	return func() {
		m.log.Debug("slot fired",
			logx.String("entity", entityID),
			logx.String("slot", s.String()),
			logx.Int("credential", s.CredentialIndex))
		// The executor records success/failure; a failing slot stays scheduled
		// for its next natural fire.
		_ = m.exec.Run(m.baseCtx, key, func(ctx context.Context) error {
			return cb(ctx, entityID, s.CredentialIndex)
		}, m.retryOptions())
	}
}

func (m *Manager) retryOptions() executor.Options {
	m.mu.Lock()
	opt := m.cfg.Retry
	m.mu.Unlock()
	return opt
}

// StopEntitySchedule cancels and disposes every timer for the entity.
// Idempotent when already stopped or unknown.
func (m *Manager) StopEntitySchedule(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.teardownLocked(entityID) {
		m.log.Info("entity schedule stopped", logx.String("entity", entityID))
	}
}

func (m *Manager) teardownLocked(entityID string) bool {
	es, ok := m.entities[entityID]
	if !ok {
		return false
	}
	for _, t := range es.tasks {
		m.timers.Cancel(t.handle)
	}
	es.active = false
	delete(m.entities, entityID)
	return true
}

// Start begins triggering. Returns false (no-op) when already running.
func (m *Manager) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	m.timers.Start()
	m.log.Info("scheduler started", logx.Int("entities", len(m.entities)))
	return true
}

// Stop halts triggering. Pending timers are cancelled; in-flight retry runs
// finish on their own (best-effort stop, not immediate). Returns false when
// already stopped.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.running = false
	m.timers.Stop()
	m.log.Info("scheduler stopped")
	return true
}

// Reload recomputes every monitored entity's schedule: stop, rebuild from the
// provider, start. Used when the monitored set or credential counts change.
func (m *Manager) Reload(cb Callback) {
	m.Stop()

	m.mu.Lock()
	for id := range m.entities {
		m.teardownLocked(id)
	}
	ids := m.provider.MonitoredEntityIDs()
	m.mu.Unlock()

	created := 0
	for _, id := range ids {
		if m.CreateEntitySchedule(id, cb) {
			created++
		}
	}
	m.Start()
	m.log.Info("scheduler reloaded", logx.Int("entities", created), logx.Int("candidates", len(ids)))
}

// ManualTrigger bypasses the clock and runs the callback once through the same
// retry-executor path, for operator-initiated re-runs and tests. The run is
// recorded under the current wall-clock time-of-day.
func (m *Manager) ManualTrigger(entityID string, credentialIndex int, cb Callback) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" || cb == nil {
		return fmt.Errorf("schedule: manual trigger requires entity and callback")
	}
	m.mu.Lock()
	count := m.provider.CredentialCount(entityID)
	now := m.now().UTC()
	opt := m.cfg.Retry
	m.mu.Unlock()

	if credentialIndex < 0 || credentialIndex >= count {
		return fmt.Errorf("schedule: credential index %d out of range for %s (have %d)",
			credentialIndex, entityID, count)
	}

	key := stats.Key{
		EntityID:        entityID,
		CredentialIndex: credentialIndex,
		Slot:            stats.TimeOfDay{Hour: now.Hour(), Minute: now.Minute(), Second: now.Second()},
	}
	m.log.Info("manual trigger", logx.String("entity", entityID), logx.Int("credential", credentialIndex))
	return m.exec.Run(m.baseCtx, key, func(ctx context.Context) error {
		return cb(ctx, entityID, credentialIndex)
	}, opt)
}

// TaskStats returns task counters, optionally filtered by entity.
func (m *Manager) TaskStats(entityID string) []stats.Entry {
	return m.stats.All(strings.TrimSpace(entityID))
}

// CleanupTaskStats prunes task counters whose last run is older than
// daysToKeep days (default 7). Returns the number removed.
func (m *Manager) CleanupTaskStats(daysToKeep int) int {
	if daysToKeep <= 0 {
		daysToKeep = 7
	}
	removed := m.stats.Cleanup(time.Duration(daysToKeep) * 24 * time.Hour)
	if removed > 0 {
		m.log.Info("task stats pruned", logx.Int("removed", removed), logx.Int("days", daysToKeep))
	}
	return removed
}
