package federation

import (
	"sync"
	"time"
)

const (
	EventPeerAdded       = "peer_added"
	EventPeerRemoved     = "peer_removed"
	EventPeerVerified    = "peer_verified"
	EventPeerBlocked     = "peer_blocked"
	EventMessageReceived = "message_received"
	EventSyncCompleted   = "sync_completed"
)

type (
	Event struct {
		Type     string    `json:"type"`
		ServerID string    `json:"server_id,omitempty"`
		Detail   string    `json:"detail,omitempty"`
		At       time.Time `json:"at"`
	}

	// EventBus fans federation events out to subscribers (the websocket
	// stream). Slow subscribers drop events rather than block publishers.
	EventBus struct {
		mu   sync.Mutex
		subs map[chan Event]struct{}
	}
)

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *EventBus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
