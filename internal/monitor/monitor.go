// Package monitor implements the per-kind feed pollers that run inside
// scheduled slots: social timelines, exchange announcement pages and spot
// prices. A poller is handed the slot's credential index, fetches its feed,
// dedups against storage and relays anything new to the notifier.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feedwatch/internal/config"
	"feedwatch/internal/credentials"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/executor"
	"feedwatch/internal/notify"
	"feedwatch/internal/schedule"
	"feedwatch/internal/storage"
	logx "feedwatch/pkg/logx"
)

// seenTTL bounds how long dedup keys live. Feeds rarely resurface items
// older than this.
const seenTTL = 14 * 24 * time.Hour

var ErrUnknownEntity = errors.New("unknown entity")

// ConfigSource resolves an entity id to its current configuration at poll
// time, so hot reloads take effect without rebuilding the monitor.
type ConfigSource interface {
	EntityByID(entityID string) (config.EntityConfig, bool)
}

// Options carries the monitor's collaborators. Store and Bus may be nil.
type Options struct {
	HTTPClient *http.Client
	Store      storage.Store
	Notifier   notify.Notifier
	Bus        eventbus.Bus
	Log        logx.Logger

	// RatePerSec caps outbound requests across all pollers. Default 5.
	RatePerSec int
}

// Monitor dispatches slot callbacks to the poller matching the entity's kind.
// Safe for concurrent use; slots for different entities may poll in parallel.
type Monitor struct {
	src      ConfigSource
	http     *http.Client
	limiter  *rate.Limiter
	store    storage.Store
	notifier notify.Notifier
	bus      eventbus.Bus
	log      logx.Logger

	// lastPrice remembers the previous observation per entity so threshold
	// crossings fire on transitions, not on every slot above the line.
	pmu       sync.Mutex
	lastPrice map[string]float64
}

func New(src ConfigSource, opt Options) *Monitor {
	if opt.HTTPClient == nil {
		opt.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opt.RatePerSec <= 0 {
		opt.RatePerSec = 5
	}
	if opt.Notifier == nil {
		opt.Notifier = notify.Nop{}
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Monitor{
		src:       src,
		http:      opt.HTTPClient,
		limiter:   rate.NewLimiter(rate.Limit(opt.RatePerSec), opt.RatePerSec),
		store:     opt.Store,
		notifier:  opt.Notifier,
		bus:       opt.Bus,
		log:       opt.Log,
		lastPrice: map[string]float64{},
	}
}

// Callback adapts the monitor to the scheduler's slot callback contract.
func (m *Monitor) Callback() schedule.Callback {
	return m.Poll
}

// Poll runs one slot execution for entityID using the slot's credential
// index. Returned errors are inspected by the retry layer: rate-limit
// responses carry a retry-after hint, permanent rejections abort retries.
func (m *Monitor) Poll(ctx context.Context, entityID string, credentialIndex int) error {
	ent, ok := m.src.EntityByID(entityID)
	if !ok {
		return executor.NoRetry(fmt.Errorf("%w: %s", ErrUnknownEntity, entityID))
	}
	cred := credentials.At(ent.Credentials, credentialIndex)
	if cred == nil {
		return executor.NoRetry(fmt.Errorf("entity %s has no credential at index %d", entityID, credentialIndex))
	}

	err := m.pollWith(ctx, ent, cred)
	if err == nil || !executor.IsRateLimited(err) || len(ent.Credentials) < 2 {
		return err
	}

	// The slot's credential burned its quota; try once more with the next one
	// before handing the rate-limit signal to the retry layer.
	next := credentials.Next(ent.Credentials, cred.ID)
	if next == nil || next.ID == cred.ID {
		return err
	}
	m.log.Info("credential quota hit, rotating",
		logx.String("entity", entityID),
		logx.String("from", cred.ID), logx.String("to", next.ID))
	if rerr := m.pollWith(ctx, ent, next); rerr == nil {
		return nil
	}
	return err
}

func (m *Monitor) pollWith(ctx context.Context, ent config.EntityConfig, cred *credentials.Credential) error {
	log := m.log.With(
		logx.String("entity", ent.ID),
		logx.String("kind", ent.Kind),
		logx.String("credential", cred.ID),
	)

	switch ent.Kind {
	case config.KindSocial:
		return m.pollSocial(ctx, ent, cred, log)
	case config.KindAnnouncements:
		return m.pollAnnouncements(ctx, ent, cred, log)
	case config.KindPrices:
		return m.pollPrices(ctx, ent, cred, log)
	default:
		return executor.NoRetry(fmt.Errorf("entity %s has unknown kind %q", ent.ID, ent.Kind))
	}
}

// getJSON performs one authenticated GET and decodes the response into v.
// HTTP 429 maps to a rate-limit marker (with the server's Retry-After if
// present), other 4xx to a no-retry marker, 5xx stays retryable.
func (m *Monitor) getJSON(ctx context.Context, cred *credentials.Credential, url string, v any) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return executor.NoRetry(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", cred.APIKey)
	if cred.APISecret != "" {
		req.Header.Set("X-API-Secret", cred.APISecret)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return executor.RateLimited(fmt.Errorf("feed %s: quota exhausted", url), retryAfter(resp))
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("feed %s: http %d", url, resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body)
		return executor.NoRetry(fmt.Errorf("feed %s: http %d", url, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("feed %s: decode: %w", url, err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// wasSeen and markSeen wrap storage so a nil or failing store degrades to
// "never seen" instead of blocking alerts.
func (m *Monitor) wasSeen(ctx context.Context, key string) bool {
	if m.store == nil {
		return false
	}
	seen, err := m.store.WasSeen(ctx, key)
	if err != nil {
		m.log.Debug("dedup lookup failed", logx.String("key", key), logx.Err(err))
		return false
	}
	return seen
}

func (m *Monitor) markSeen(ctx context.Context, key string, ttl time.Duration) {
	if m.store == nil {
		return
	}
	if err := m.store.PutSeen(ctx, key, time.Now().Add(ttl)); err != nil {
		m.log.Debug("dedup write failed", logx.String("key", key), logx.Err(err))
	}
}

func (m *Monitor) relay(ctx context.Context, msg notify.Message) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeEventFound, Time: time.Now(), Data: msg})
	}
	if err := m.notifier.Notify(ctx, msg); err != nil {
		m.log.Warn("notification not delivered",
			logx.String("entity", msg.EntityID), logx.Err(err))
	}
}
