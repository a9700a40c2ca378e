package eventbus

import (
	"sync"
	"time"
)

// Type names a category of bus event. Subscribers switch on it to decide
// how to interpret Data.
type Type string

// Events published by the scheduling and delivery pipeline.
const (
	TypeTaskStarted  Type = "task.started"
	TypeTaskFinished Type = "task.finished"
	TypeTaskFailed   Type = "task.failed"
	TypeEventFound   Type = "feed.event"

	TypeNotifySent    Type = "notify.sent"
	TypeNotifyDropped Type = "notify.dropped"
	TypeNotifyFailed  Type = "notify.failed"
)

// Event carries a single in-process signal between components. Delivery is
// best effort: publishing never blocks, and a subscriber whose buffer is
// full misses the event.
type Event struct {
	Type Type
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no background goroutines.
func New() Bus {
	return &fanout{subs: map[int]chan Event{}}
}

type fanout struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// Publish stamps e with the current time when unset and offers it to every
// subscriber. Sends happen under the read lock and channels are only closed
// under the write lock, so a send can never race a close.
func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			close(ch)
			f.mu.Unlock()
		})
	}
	return ch, unsub
}
