// Package feed holds the session-scoped timeline: an ordered, append-only
// log of every event received during the authenticated session, plus the
// unread accounting the sidebar badge is driven by.
package feed

import (
	"sync"

	"github.com/psalabs/pulse/internal/event"
)

// WelcomeMessage seeds every new feed so the sidebar never opens onto an
// empty timeline.
const WelcomeMessage = "Hi! I'm your PSA assistant. Ask me about projects, staffing, or quotes — I'll also post updates here as agents work."

// Feed is the single mutable log for a session. All writes route through
// Append/RecordChat; readers get snapshots. It is safe for concurrent use by
// the stream reader goroutine and the UI.
//
// Unread accounting: every append while the sidebar is hidden counts as
// unread; flipping to visible resets the counter in the same locked step, so
// an event arriving during the flip can never be double-counted.
type Feed struct {
	mu      sync.Mutex
	events  []event.Event
	unread  int
	visible bool
	notify  chan struct{}
}

// New creates an empty feed seeded with the synthetic welcome message.
// The feed starts hidden; visibility follows the sidebar via SetVisible.
func New() *Feed {
	f := &Feed{
		notify: make(chan struct{}, 1),
	}
	f.events = append(f.events, event.NewChat(event.RoleAssistant, WelcomeMessage))
	return f
}

// Append inserts an event at the tail. Order is arrival order: no sorting by
// timestamp, no deduplication (two identical PTO conflicts are two
// conflicts).
func (f *Feed) Append(ev event.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	if !f.visible {
		f.unread++
	}
	f.mu.Unlock()
	f.signal()
}

// RecordChat builds a chat event stamped with the current wall clock and
// appends it. Both the user's outgoing text and the assistant's replies go
// through here.
func (f *Feed) RecordChat(role event.Role, content string) {
	f.Append(event.NewChat(role, content))
}

// SetVisible tracks the sidebar's open state. Becoming visible zeroes the
// unread counter atomically with the flip.
func (f *Feed) SetVisible(open bool) {
	f.mu.Lock()
	if open && !f.visible {
		f.unread = 0
	}
	f.visible = open
	f.mu.Unlock()
	f.signal()
}

// Events returns a snapshot copy of the timeline in append order.
func (f *Feed) Events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Event, len(f.events))
	copy(out, f.events)
	return out
}

// Len returns the number of events in the timeline.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// Unread returns the number of events appended since the sidebar was last
// opened.
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// Last returns the most recent event, or nil for an impossible empty feed.
func (f *Feed) Last() event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

// Notify returns a coalesced change signal: the channel receives at most one
// pending tick no matter how many mutations happened since the last read.
func (f *Feed) Notify() <-chan struct{} {
	return f.notify
}

func (f *Feed) signal() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}
