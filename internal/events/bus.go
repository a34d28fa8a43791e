// Package events provides the in-process notification bus that decouples
// the turn orchestrator from transport-specific delivery.
package events

import (
	"sync"

	"github.com/ostrauko/loreline/internal/storage"
)

// Type discriminates event payloads.
type Type string

const (
	TypeMessage Type = "message" // a message was appended
	TypeRun     Type = "run"     // a run was created or transitioned
)

// Event is published after message appends and run transitions.
type Event struct {
	Type    Type
	ChatID  string
	Message *storage.Message
	Run     *storage.ChatRun
}

// Listener receives events for one chat. Listeners must not block; slow
// consumers should buffer and drop on their own side.
type Listener func(Event)

// Bus is a chat-keyed publish/subscribe registry. Delivery is best-effort
// and synchronous; publishing never fails.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[int]Listener
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]Listener)}
}

// Subscribe registers a listener for a chat and returns its unsubscribe
// function. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(chatID string, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[chatID] == nil {
		b.subs[chatID] = make(map[int]Listener)
	}
	id := b.next
	b.next++
	b.subs[chatID][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if listeners, ok := b.subs[chatID]; ok {
			delete(listeners, id)
			if len(listeners) == 0 {
				delete(b.subs, chatID)
			}
		}
	}
}

// Publish delivers the event to all listeners subscribed to its chat.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.subs[ev.ChatID]))
	for _, fn := range b.subs[ev.ChatID] {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
