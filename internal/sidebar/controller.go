// Package sidebar implements the notification/chat panel: the open/closed
// state machine, the unread badge, and the send pipeline that turns user
// text into an agent roundtrip.
package sidebar

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/psalabs/pulse/internal/event"
	"github.com/psalabs/pulse/internal/feed"
	"github.com/psalabs/pulse/internal/gateway"
)

// DefaultOpen is the initial panel visibility. The dashboard shipped with
// both defaults at different times; closed is the canonical one.
const DefaultOpen = false

// Querier is the agent request boundary. *gateway.Client satisfies it.
type Querier interface {
	Query(ctx context.Context, text, sessionID string) (*gateway.QueryResponse, error)
}

// Controller drives one sidebar for one session. It owns visibility and the
// in-flight send guard; all timeline state lives in the feed.
//
// The "thinking" placeholder is controller state, not a feed entry: the feed
// stays append-only and the placeholder can never be left stuck in history —
// it disappears the moment the in-flight flag clears, on every path.
type Controller struct {
	feed      *feed.Feed
	agent     Querier
	sessionID string
	log       *slog.Logger

	mu       sync.Mutex
	open     bool
	inFlight bool
}

// NewController creates a controller bound to a feed and agent gateway.
func NewController(f *feed.Feed, agent Querier, sessionID string, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		feed:      f,
		agent:     agent,
		sessionID: sessionID,
		log:       log,
		open:      DefaultOpen,
	}
	f.SetVisible(DefaultOpen)
	return c
}

// IsOpen reports panel visibility.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// InFlight reports whether a send is outstanding; the UI renders the
// thinking placeholder while true.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Toggle flips the panel open or closed. Entering open resets the unread
// counter in the same observable step. Nothing but user action calls this;
// event arrival never changes visibility.
func (c *Controller) Toggle() {
	c.mu.Lock()
	c.open = !c.open
	open := c.open
	c.mu.Unlock()
	c.feed.SetVisible(open)
}

// Unread returns the feed's unread count.
func (c *Controller) Unread() int {
	return c.feed.Unread()
}

// SendMessage runs the full send pipeline: optimistic local echo, in-flight
// placeholder, agent roundtrip, and either the real reply or a synthesized
// error explanation. Empty input and duplicate submissions are no-ops.
//
// The call blocks for the roundtrip; UI code runs it off the render path.
// Closing the panel mid-flight does not cancel the request — a late reply
// still lands in the feed and counts as unread if the panel is closed.
func (c *Controller) SendMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	// Local echo always succeeds, before any network happens.
	c.feed.RecordChat(event.RoleUser, text)

	resp, err := c.agent.Query(ctx, text, c.sessionID)

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("agent query failed", "session_id", c.sessionID, "error", err)
		c.feed.RecordChat(event.RoleAssistant, gateway.Humanize(err))
		return
	}
	c.feed.RecordChat(event.RoleAssistant, resp.Response)
}
