// Package app wires the process together: config, logging, storage, the
// notifier, the scheduler and the monitors. It owns startup order, the config
// hot-reload loop and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/executor"
	"feedwatch/internal/monitor"
	"feedwatch/internal/notify"
	"feedwatch/internal/schedule"
	"feedwatch/internal/stats"
	"feedwatch/internal/storage"
	logx "feedwatch/pkg/logx"
)

// statsCleanup controls the in-memory stats pruning cadence.
const (
	statsCleanupEvery = 6 * time.Hour
	statsKeepDays     = 7
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	bus  eventbus.Bus

	store    storage.Store
	tg       *notify.Telegram // nil when Telegram is disabled
	notifier notify.Notifier

	stats *stats.Store
	exec  *executor.Executor
	sched *schedule.Manager
	mon   *monitor.Monitor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New loads the config and builds every component. Nothing starts running
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, err := logx.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if strings.TrimSpace(cfg.Storage.Driver) != "" {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if store != nil {
			appLog.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	var notifier notify.Notifier = notify.Nop{}
	var tg *notify.Telegram
	if cfg.Telegram.Enabled {
		tg, err = notify.NewTelegram(notify.Config{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		}, log.With(logx.String("comp", "notify")), bus)
		if err != nil {
			return nil, err
		}
		notifier = tg
	}

	st := stats.NewStore()
	exec := executor.New(st, log.With(logx.String("comp", "executor")), bus)
	sched := schedule.NewManager(cfg.MonitorSettings(), cfgm, exec, st, nil,
		log.With(logx.String("comp", "schedule")))

	mon := monitor.New(cfgm, monitor.Options{
		Store:    store,
		Notifier: notifier,
		Bus:      bus,
		Log:      log.With(logx.String("comp", "monitor")),
	})

	return &App{
		cfgm:     cfgm,
		log:      appLog,
		bus:      bus,
		store:    store,
		tg:       tg,
		notifier: notifier,
		stats:    st,
		exec:     exec,
		sched:    sched,
		mon:      mon,
	}, nil
}

// Scheduler exposes the schedule manager for operational inspection.
func (a *App) Scheduler() *schedule.Manager { return a.sched }

// Start builds the entity schedules and launches the background loops.
// Idempotent.
func (a *App) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	if a.tg != nil {
		a.tg.Start()
	}

	cb := a.mon.Callback()
	created := 0
	for _, id := range a.cfgm.MonitoredEntityIDs() {
		if a.sched.CreateEntitySchedule(id, cb) {
			created++
		}
	}
	a.sched.Start()
	a.log.Info("monitoring started", logx.Int("entities", created))
	a.logStatus()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("config watcher stopped", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub, cb)
	}()

	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer unsub()
			a.auditLoop(runCtx, events)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.cleanupLoop(runCtx)
	}()

	return nil
}

// Stop halts the scheduler, drains the notifier and closes storage. In-flight
// slot executions are not aborted.
func (a *App) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	a.sched.Stop()
	// The notifier worker outlives the run context, so queued messages are
	// still deliverable here even after a signal already cancelled it.
	if a.tg != nil {
		a.tg.Stop(ctx)
	}
	cancel()
	a.wg.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	_ = a.log.Close()
}

// reloadLoop applies config changes published by the watcher. Bursts are
// coalesced to the most recent config; changes that leave the monitoring
// plan untouched (logging tweaks and the like) skip the schedule rebuild.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, cb schedule.Callback) {
	last := monitorFingerprint(a.cfgm.Get())
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			for {
				select {
				case next, ok := <-sub:
					if !ok {
						return
					}
					cfg = next
					continue
				default:
				}
				break
			}
			fp := monitorFingerprint(cfg)
			if fp == last {
				a.log.Debug("config changed, monitoring plan unchanged")
				continue
			}
			last = fp
			a.log.Info("config changed, rebuilding schedules")
			a.sched.Apply(cfg.MonitorSettings())
			a.sched.Reload(cb)
			a.logStatus()
		}
	}
}

// monitorFingerprint digests the parts of the config that shape the slot
// plan: the monitor block plus each entity's identity, enablement and
// credential count. Feed URLs and keywords are read at poll time and need no
// rebuild.
func monitorFingerprint(cfg *config.Config) uint64 {
	if cfg == nil {
		return 0
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%+v|", cfg.MonitorSettings())
	for _, e := range cfg.Entities {
		fmt.Fprintf(h, "%s:%d:%t|", e.ID, len(e.Credentials), e.IsEnabled())
	}
	return h.Sum64()
}

// auditLoop persists finished slot executions for operator forensics.
func (a *App) auditLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.TypeTaskFinished && e.Type != eventbus.TypeTaskFailed {
				continue
			}
			te, ok := e.Data.(executor.TaskEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), time.Second)
			err := a.store.AppendRun(wctx, storage.RunRecord{
				At:              te.Started,
				EntityID:        te.Key.EntityID,
				CredentialIndex: te.Key.CredentialIndex,
				Slot:            te.Key.Slot.String(),
				Attempts:        te.Attempts,
				OK:              e.Type == eventbus.TypeTaskFinished,
				Error:           te.Error,
				TookMS:          te.Duration.Milliseconds(),
			})
			cancel()
			if err != nil {
				a.log.Debug("run audit write failed", logx.Err(err))
			}
		}
	}
}

func (a *App) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(statsCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sched.CleanupTaskStats(statsKeepDays); n > 0 {
				a.log.Debug("stale task stats pruned", logx.Int("removed", n))
			}
		}
	}
}

func (a *App) logStatus() {
	st := a.sched.Status()
	for id, es := range st.Entities {
		a.log.Info("entity schedule",
			logx.String("entity", id),
			logx.Int("slots", es.SlotCount),
			logx.Int("credentials", es.CredentialCount),
			logx.Time("next_run", es.NextRun))
	}
}
