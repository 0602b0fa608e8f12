package session

import (
	"sync"
	"time"
)

// EventKind names a session event.
type EventKind string

const (
	EventValidated  EventKind = "validated"
	EventMessage    EventKind = "message"
	EventData       EventKind = "data"
	EventTerminated EventKind = "terminated"
	EventClosed     EventKind = "closed"
)

// Event is published by sessions. Text holds the message text, the raw DATA
// payload or the TERMINATE reason depending on Kind.
type Event struct {
	Kind       EventKind `json:"kind"`
	SessionID  string    `json:"session_id"`
	Username   string    `json:"username,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Text       string    `json:"text,omitempty"`
	At         time.Time `json:"at"`
}

// Listener receives events.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }

type subscription struct {
	id int
	l  Listener
}

// Bus fans events out to listeners in subscription order.
// Publish runs listeners synchronously on the publishing goroutine, so a
// single session's events are always delivered in order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, l: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers e to every current listener.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.l.HandleEvent(e)
	}
}

// Len returns the number of listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
