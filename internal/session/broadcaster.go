// ABOUTME: In-memory fan-out of registry events to console subscribers.
// ABOUTME: Publishing never blocks; slow subscribers lose events.

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// EventKind names a registry change.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventReplaced     EventKind = "replaced"
	EventRemoved      EventKind = "removed"
	EventDisconnected EventKind = "disconnected"
)

// Event is one registry change.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session Info      `json:"session"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Broadcaster delivers Events to subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. The channel is closed when ctx is
// cancelled or the broadcaster shuts down.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends ev to every subscriber without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "kind", ev.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}
