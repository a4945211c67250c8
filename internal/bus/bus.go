// Package bus is the in-process broadcaster that carries business events
// from the agents to every connected stream subscriber.
package bus

import (
	"log/slog"
	"sync"

	"github.com/psalabs/pulse/internal/event"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus fans business events out to subscribers. Emit never blocks: a
// subscriber that cannot keep up loses events rather than stalling the
// agents, and the drop is logged.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[int64]chan event.BusinessEvent
	nextID int64
}

// New creates an empty bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:  log,
		subs: make(map[int64]chan event.BusinessEvent),
	}
}

// Subscribe registers a new subscriber and returns its ID and channel.
// The channel is closed by Unsubscribe.
func (b *Bus) Subscribe(buffer int) (int64, <-chan event.BusinessEvent) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan event.BusinessEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call with
// an unknown ID.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Emit delivers an event to every subscriber in registration order.
func (b *Bus) Emit(ev event.BusinessEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("dropping event for slow subscriber",
				"subscriber", id,
				"type", ev.Type,
				"agent_id", ev.AgentID,
			)
		}
	}
}

// Len returns the current subscriber count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
