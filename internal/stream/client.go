// Package stream owns the long-lived server-push connection that delivers
// business events to a session. Exactly one connection exists per session;
// inbound frames are decoded and forwarded to the feed, and connection state
// is surfaced for the sidebar status indicator.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/psalabs/pulse/internal/event"
)

// State is the connection lifecycle state. Transitions are driven only by
// transport callbacks, never set directly by UI code.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Transport selects the push transport.
type Transport string

const (
	// TransportNDJSON reads newline-delimited JSON frames from a plain GET.
	TransportNDJSON Transport = "ndjson"
	// TransportWebSocket reads one JSON frame per websocket message.
	TransportWebSocket Transport = "websocket"
)

// RetryPolicy controls automatic reconnection after a transport failure.
// The zero value never retries, matching the behavior the dashboard shipped
// with: a dropped stream stays down until the session identity changes.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff before the given retry attempt (1-based),
// doubling from BaseDelay and capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Appender receives decoded events. *feed.Feed satisfies it; the indirection
// keeps this package free of feed internals and lets tests capture appends.
type Appender interface {
	Append(ev event.Event)
}

// Config holds stream client settings.
type Config struct {
	// BaseURL is the agent backend origin, e.g. "http://localhost:8080".
	BaseURL string
	// SessionID is sent with the subscribe request so the backend can scope
	// the stream.
	SessionID string
	Transport Transport
	Retry     RetryPolicy
	// HTTPClient is used for the NDJSON transport. Defaults to a client with
	// no overall timeout (the connection is deliberately long-lived).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

var errClosedByServer = errors.New("event stream closed by server")

// EventsPath is the push endpoint the client subscribes to.
const EventsPath = "/api/v1/agent/events"

// SessionHeaderName carries the per-tab session ID on subscribe requests.
const SessionHeaderName = "X-PSA-Session-ID"

// Client consumes the push stream for one session. Establish is a no-op
// while a connection is already running; Teardown is idempotent and
// guarantees no append lands after it returns.
type Client struct {
	cfg  Config
	sink Appender
	log  *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	running bool
	gen     uint64
	cancel  context.CancelFunc
}

// New creates a stream client delivering into sink.
func New(cfg Config, sink Appender) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportNDJSON
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, sink: sink, log: log}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Establish opens the push connection. Calling it while a connection is
// already open is a no-op, preserving the one-connection-per-session
// invariant.
func (c *Client) Establish(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	gen := c.gen
	c.state.Store(int32(StateConnecting))

	go c.run(runCtx, gen)
	return nil
}

// Teardown closes the connection if present. Safe to call repeatedly and
// mandatory when the session identity goes away: frames still in flight on
// the old transport are discarded, never appended.
func (c *Client) Teardown() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state.Store(int32(StateDisconnected))
	c.mu.Unlock()
}

// deliver forwards a decoded frame unless the connection generation it came
// from has been torn down.
func (c *Client) deliver(gen uint64, ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.running {
		return
	}
	c.sink.Append(ev)
}

// setState stores a connection state on behalf of a run loop, unless that
// loop's generation has been torn down. Without the check a goroutine
// scheduled after Teardown would overwrite the disconnected state.
func (c *Client) setState(gen uint64, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.state.Store(int32(s))
}

// settle marks the run loop finished if its generation is still current.
func (c *Client) settle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.running = false
	c.cancel = nil
	c.state.Store(int32(StateDisconnected))
}

func (c *Client) run(ctx context.Context, gen uint64) {
	defer c.settle(gen)

	attempt := 0
	for {
		c.setState(gen, StateConnecting)

		var err error
		switch c.cfg.Transport {
		case TransportWebSocket:
			err = c.consumeWebSocket(ctx, gen)
		default:
			err = c.consumeNDJSON(ctx, gen)
		}

		if ctx.Err() != nil {
			return
		}

		c.setState(gen, StateDisconnected)
		attempt++
		if attempt > c.cfg.Retry.MaxAttempts {
			if err != nil {
				c.log.Warn("event stream down, not retrying", "error", err, "attempts", attempt)
			}
			return
		}

		delay := c.cfg.Retry.Delay(attempt)
		c.log.Info("event stream reconnecting", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consumeNDJSON subscribes via GET and reads one JSON frame per line until
// the stream ends. Blank lines are keepalives.
func (c *Client) consumeNDJSON(ctx context.Context, gen uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+EventsPath, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if c.cfg.SessionID != "" {
		req.Header.Set(SessionHeaderName, c.cfg.SessionID)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open event stream: unexpected status %d", resp.StatusCode)
	}

	c.setState(gen, StateConnected)
	c.log.Info("event stream connected", "session_id", c.cfg.SessionID)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue // keepalive
		}
		c.onFrame(gen, []byte(line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return errClosedByServer
}

// consumeWebSocket reads one JSON frame per message.
func (c *Client) consumeWebSocket(ctx context.Context, gen uint64) error {
	wsURL := strings.Replace(c.cfg.BaseURL, "http", "ws", 1) + "/ws/events"
	if c.cfg.SessionID != "" {
		wsURL += "?session_id=" + c.cfg.SessionID
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "teardown") //nolint:errcheck // already closing

	c.setState(gen, StateConnected)
	c.log.Info("event stream connected", "session_id", c.cfg.SessionID, "transport", "websocket")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read event stream: %w", err)
		}
		c.onFrame(gen, data)
	}
}

// onFrame decodes a raw frame and forwards it. Malformed frames are dropped
// with a log line; a bad frame must never tear the connection down.
func (c *Client) onFrame(gen uint64, raw []byte) {
	ev, err := event.Decode(raw)
	if err != nil {
		c.log.Warn("dropping malformed event frame", "error", err)
		return
	}
	c.deliver(gen, ev)
}
