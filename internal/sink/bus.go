package sink

import (
	"sync"
	"time"

	"github.com/danmuck/linectl/internal/protocol/session"
)

// EventType classifies a bus event for stream subscribers.
type EventType string

const (
	EventMessage EventType = "message"
	EventError   EventType = "error"
	EventSent    EventType = "sent"
	EventStatus  EventType = "status"
)

// Event is the JSON envelope delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Data      any       `json:"data,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Bus fans session events out to subscribers. Slow subscribers miss events
// rather than stall the receive loop.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[*subscriber]struct{}), buffer: buffer}
}

// Subscribe returns an event channel and an unsubscribe func that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *Bus) OnMessage(text string) {
	b.Publish(Event{Type: EventMessage, Text: text})
}

func (b *Bus) OnError(err error) {
	b.Publish(Event{Type: EventError, Kind: string(session.KindOf(err)), Error: err.Error()})
}

// RecordSent publishes an outgoing message for stream subscribers.
func (b *Bus) RecordSent(text string) {
	b.Publish(Event{Type: EventSent, Text: text})
}

func (b *Bus) PublishStatus(st session.Status) {
	b.Publish(Event{Type: EventStatus, Data: st})
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
