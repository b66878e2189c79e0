package service

import "sync"

// Event describes a mutation of a field, permission or provider grant.
type Event struct {
	Resource string   `json:"resource"` // "fields", "permissions", "provider-access"
	Action   string   `json:"action"`   // "created", "updated", "deleted", "requested", "approved", ...
	ID       string   `json:"id,omitempty"`
	Message  string   `json:"message,omitempty"`
	Users    []string `json:"-"` // users the event concerns
}

// Concerns reports whether userID is in the event audience.
func (e Event) Concerns(userID string) bool {
	for _, u := range e.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// EventBus is a simple fan-out pub/sub for domain events. A nil *EventBus
// drops everything.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
