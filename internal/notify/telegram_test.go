package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "feedwatch/pkg/logx"
)

type fakeSender struct {
	gate  chan struct{} // when set, sends wait here first
	mu    sync.Mutex
	sent  []string
	fails int // fail this many sends before succeeding
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("api unavailable")
	}
	s, _ := what.(string)
	f.sent = append(f.sent, s)
	return &tele.Message{ID: len(f.sent)}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestNotifier(t *testing.T, fs *fakeSender, cfg Config) *Telegram {
	t.Helper()
	cfg.ChatID = 42
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	return newTelegram(cfg, logx.Nop(), nil, fs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTelegramDelivers(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	n := newTestNotifier(t, fs, Config{})
	ctx := context.Background()
	n.Start()
	defer n.Stop(ctx)

	msg := Message{EntityID: "acct1", Kind: "social", Title: "new post", Text: "hello", Link: "https://example.com/p/1"}
	if err := n.Notify(ctx, msg); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(fs.texts()) == 1 })

	got := fs.texts()[0]
	for _, want := range []string{"new post", "hello", "https://example.com/p/1", "acct1"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered message missing %q:\n%s", want, got)
		}
	}
}

func TestTelegramRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{fails: 2}
	n := newTestNotifier(t, fs, Config{RetryMax: 2})
	ctx := context.Background()
	n.Start()
	defer n.Stop(ctx)

	if err := n.Notify(ctx, Message{EntityID: "acct1", Text: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(fs.texts()) == 1 })
}

func TestTelegramStopDrainsQueue(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	n := newTestNotifier(t, fs, Config{})
	ctx := context.Background()
	n.Start()

	for i := 0; i < 5; i++ {
		if err := n.Notify(ctx, Message{EntityID: "acct1", Text: "m"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	n.Stop(ctx)
	if got := len(fs.texts()); got != 5 {
		t.Fatalf("delivered %d messages after Stop, want 5", got)
	}
	if err := n.Notify(ctx, Message{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
}

func TestTelegramDrainSurvivesRunContextCancel(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	fs := &fakeSender{gate: gate}
	n := newTestNotifier(t, fs, Config{})
	n.Start()

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Notify(ctx, Message{EntityID: "acct1", Text: "queued"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	// A signal-driven shutdown cancels the run context before Stop runs.
	// The queued message must still be delivered by the drain.
	cancel()
	close(gate)
	n.Stop(context.Background())

	if got := len(fs.texts()); got != 1 {
		t.Fatalf("delivered %d messages after shutdown, want 1", got)
	}
}

func TestTelegramQueueFullDrops(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	// Worker never started, so the queue cannot drain.
	n := newTestNotifier(t, fs, Config{QueueSize: 1})
	n.mu.Lock()
	n.queue = make(chan Message, 1)
	n.accepting = true
	n.mu.Unlock()

	ctx := context.Background()
	if err := n.Notify(ctx, Message{Text: "a"}); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	if err := n.Notify(ctx, Message{Text: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Notify = %v, want ErrQueueFull", err)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 100); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText(short) = %v", got)
	}

	long := strings.Repeat("line of feed text\n", 40)
	chunks := splitText(long, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Errorf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if c == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestRenderKinds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		kind string
		want string
	}{
		{"prices", "📈"},
		{"announcements", "📣"},
		{"social", "🔔"},
	}
	for _, tc := range cases {
		if got := Render(Message{Kind: tc.kind, EntityID: "e"}); !strings.HasPrefix(got, tc.want) {
			t.Errorf("Render(kind=%s) = %q, want prefix %q", tc.kind, got, tc.want)
		}
	}
}
