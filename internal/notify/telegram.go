package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"golang.org/x/time/rate"

	"feedwatch/internal/eventbus"
	logx "feedwatch/pkg/logx"
)

const telegramTextLimit = 4000

// Config configures the Telegram notifier.
type Config struct {
	Token  string
	ChatID int64

	QueueSize  int           // default 256
	RatePerSec int           // default 1, bot-api friendly
	RetryMax   int           // extra attempts after the first, default 2
	RetryBase  time.Duration // default 500ms, doubled per attempt
}

func (c *Config) withDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
}

// sender is the slice of *tele.Bot the worker needs.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram sends messages to a single chat through the Bot API.
// Safe for concurrent use.
type Telegram struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	bot     sender
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan Message
	accepting bool
	sendWG    sync.WaitGroup
	done      chan struct{}
	cancel    context.CancelFunc
}

// NewTelegram builds the notifier and verifies the token with a getMe call.
func NewTelegram(cfg Config, log logx.Logger, bus eventbus.Bus) (*Telegram, error) {
	b, err := tele.NewBot(tele.Settings{Token: strings.TrimSpace(cfg.Token)})
	if err != nil {
		return nil, err
	}
	return newTelegram(cfg, log, bus, b), nil
}

func newTelegram(cfg Config, log logx.Logger, bus eventbus.Bus, bot sender) *Telegram {
	cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the send worker. Idempotent.
//
// The worker runs on its own context, deliberately detached from the
// process context. A cancelled process context only stops new work from
// being enqueued; queued messages stay deliverable until Stop drains them.
func (t *Telegram) Start() {
	t.mu.Lock()
	if t.queue != nil {
		t.mu.Unlock()
		return
	}
	t.queue = make(chan Message, t.cfg.QueueSize)
	t.accepting = true
	t.done = make(chan struct{})
	wctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	q := t.queue
	done := t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-wctx.Done():
				return
			case m, ok := <-q:
				if !ok {
					return
				}
				t.sendWithRetry(wctx, m)
			}
		}
	}()
}

// Stop blocks new messages, drains the queue and waits for the worker until
// ctx expires. Once ctx expires the worker's context is cancelled and any
// remaining messages are dropped.
func (t *Telegram) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	if t.queue == nil {
		t.mu.Unlock()
		return
	}
	t.accepting = false
	q := t.queue
	done := t.done
	cancel := t.cancel
	t.queue = nil
	t.done = nil
	t.cancel = nil
	t.mu.Unlock()

	// Let in-flight enqueues finish before closing the queue.
	t.sendWG.Wait()
	close(q)
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
}

func (t *Telegram) Notify(ctx context.Context, m Message) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	t.mu.Lock()
	if !t.accepting || t.queue == nil {
		t.mu.Unlock()
		return ErrStopped
	}
	q := t.queue
	t.sendWG.Add(1)
	t.mu.Unlock()
	defer t.sendWG.Done()

	if m.At.IsZero() {
		m.At = time.Now()
	}
	select {
	case q <- m:
		return nil
	default:
		if t.bus != nil {
			t.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyDropped, Time: time.Now(), Data: m})
		}
		t.log.Warn("notify queue full, message dropped",
			logx.String("entity", m.EntityID), logx.String("kind", m.Kind))
		return ErrQueueFull
	}
}

func (t *Telegram) sendWithRetry(ctx context.Context, m Message) {
	text := Render(m)
	if text == "" {
		return
	}
	chat := &tele.Chat{ID: t.cfg.ChatID}

	attempts := 1 + t.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return
		}

		err := t.sendChunks(ctx, chat, text)
		if err == nil {
			if t.bus != nil {
				t.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Time: time.Now(), Data: m})
			}
			return
		}
		lastErr = err
		t.log.Debug("telegram send failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))

		if attempt >= attempts {
			break
		}
		delay := t.cfg.RetryBase << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	t.log.Warn("telegram delivery failed",
		logx.String("entity", m.EntityID), logx.Err(lastErr))
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Time: time.Now(), Data: m})
	}
}

func (t *Telegram) sendChunks(ctx context.Context, chat *tele.Chat, text string) error {
	for _, chunk := range splitText(text, telegramTextLimit) {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := t.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// splitText breaks long messages into chat-sized chunks, preferring newline
// boundaries so feed excerpts stay readable.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
