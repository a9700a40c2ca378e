// Package notify delivers monitor findings to the operator's Telegram chat.
//
// Delivery is asynchronous: Notify enqueues, a worker drains the queue under a
// token-bucket rate limit and retries transient send failures. A full queue
// drops the message rather than blocking a poll slot.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Message is one finding to relay. Kind matches the monitor kind that
// produced it ("social", "announcements", "prices").
type Message struct {
	EntityID string
	Kind     string
	Title    string
	Text     string
	Link     string
	At       time.Time
}

// Notifier is the delivery surface the monitors depend on.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Nop discards everything. Used when Telegram delivery is disabled.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Render formats a message for a chat. Plain text, no markup, so entity
// names and feed titles never need escaping.
func Render(m Message) string {
	var b strings.Builder
	switch m.Kind {
	case "prices":
		b.WriteString("📈 ")
	case "announcements":
		b.WriteString("📣 ")
	default:
		b.WriteString("🔔 ")
	}
	if m.Title != "" {
		b.WriteString(m.Title)
	} else {
		b.WriteString(m.EntityID)
	}
	if m.Text != "" {
		b.WriteString("\n")
		b.WriteString(m.Text)
	}
	if m.Link != "" {
		b.WriteString("\n")
		b.WriteString(m.Link)
	}
	if m.EntityID != "" && m.Title != "" {
		fmt.Fprintf(&b, "\n(%s)", m.EntityID)
	}
	return b.String()
}
