// Package events fans entity activity out to live subscribers.
//
// Thoughts, chat exchanges, energy changes and dream reports are published
// on a Bus; HTTP clients follow them as a server-sent event stream.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types.
const (
	TypeThought = "thought"
	TypeChat    = "chat"
	TypeEnergy  = "energy"
	TypeDream   = "dream"
	TypeMemory  = "memory"
	TypeStatus  = "status"
	TypeError   = "error"
)

const defaultRecent = 200

// Event is a single entry on the bus.
type Event struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Role    string         `json:"role,omitempty"` // chat: "user" or "entity"
	Level   float64        `json:"level,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	TS      string         `json:"ts"`
}

// Marshal serializes the event, stamping it if needed.
func (e Event) Marshal() []byte {
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339)
	}
	b, _ := json.Marshal(e)
	return b
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus is a non-blocking fan-out with a ring of recent events.
// Subscribers that fall behind miss events rather than stall publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	recentMu  sync.RWMutex
	recent    []Event
	maxRecent int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*subscriber]struct{}),
		maxRecent:   defaultRecent,
	}
}

// Publish records e and delivers it to every subscriber with room.
func (b *Bus) Publish(e Event) {
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339)
	}

	b.recentMu.Lock()
	b.recent = append(b.recent, e)
	if len(b.recent) > b.maxRecent {
		b.recent = b.recent[len(b.recent)-b.maxRecent:]
	}
	b.recentMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Emit is a shorthand for publishing a typed message.
func (b *Bus) Emit(typ, message string) {
	b.Publish(Event{Type: typ, Message: message})
}

// Subscribe registers a subscriber. Callers must Unsubscribe with the
// returned done channel.
func (b *Bus) Subscribe() (<-chan Event, chan struct{}) {
	sub := &subscriber{
		ch:   make(chan Event, 64),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub.ch, sub.done
}

// Unsubscribe removes the subscriber owning done and closes its channel.
func (b *Bus) Unsubscribe(done chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		if sub.done == done {
			close(sub.ch)
			delete(b.subscribers, sub)
			return
		}
	}
}

// Recent returns up to n of the latest events, oldest first.
// n <= 0 returns everything retained.
func (b *Bus) Recent(n int) []Event {
	b.recentMu.RLock()
	defer b.recentMu.RUnlock()

	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	out := make([]Event, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
