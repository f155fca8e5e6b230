package handlers

import (
	"sync"

	"pharmachat/agent"
)

// EventBus fans session lifecycle events out to SSE subscribers.
type EventBus struct {
	mu      sync.Mutex
	clients map[chan agent.SessionEvent]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan agent.SessionEvent]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast events.
func (eb *EventBus) Subscribe() chan agent.SessionEvent {
	ch := make(chan agent.SessionEvent, 16)
	eb.mu.Lock()
	eb.clients[ch] = struct{}{}
	eb.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (eb *EventBus) Unsubscribe(ch chan agent.SessionEvent) {
	eb.mu.Lock()
	delete(eb.clients, ch)
	eb.mu.Unlock()
}

// Publish sends ev to all subscribers, dropping it for any whose buffer is
// full. It has the signature of a store listener.
func (eb *EventBus) Publish(ev agent.SessionEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for ch := range eb.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}
