package sidebar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/psalabs/pulse/internal/event"
	"github.com/psalabs/pulse/internal/feed"
	"github.com/psalabs/pulse/internal/gateway"
)

// stubAgent scripts gateway behavior for the controller.
type stubAgent struct {
	mu      sync.Mutex
	calls   int
	resp    string
	err     error
	block   chan struct{} // when non-nil, Query waits until closed
	started chan struct{} // signalled once per Query entry
}

func (a *stubAgent) Query(ctx context.Context, text, sessionID string) (*gateway.QueryResponse, error) {
	a.mu.Lock()
	a.calls++
	block := a.block
	started := a.started
	a.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if a.err != nil {
		return nil, a.err
	}
	return &gateway.QueryResponse{Response: a.resp, Status: "completed"}, nil
}

func (a *stubAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newController(agent Querier) (*Controller, *feed.Feed) {
	f := feed.New()
	return NewController(f, agent, "tab-1", nil), f
}

func TestInitialStateClosed(t *testing.T) {
	c, _ := newController(&stubAgent{})
	if c.IsOpen() != DefaultOpen {
		t.Errorf("Expected initial open=%v", DefaultOpen)
	}
}

func TestToggleResetsUnread(t *testing.T) {
	c, f := newController(&stubAgent{})

	f.Append(event.NewChat(event.RoleAssistant, "while closed"))
	if c.Unread() == 0 {
		t.Fatal("Expected unread while closed")
	}

	c.Toggle()
	if !c.IsOpen() {
		t.Error("Expected open after toggle")
	}
	if c.Unread() != 0 {
		t.Errorf("Expected unread reset on open, got %d", c.Unread())
	}

	c.Toggle()
	if c.IsOpen() {
		t.Error("Expected closed after second toggle")
	}
}

func TestSendMessageSuccess(t *testing.T) {
	agent := &stubAgent{resp: "Here's the plan."}
	c, f := newController(agent)

	before := f.Len()
	c.SendMessage(context.Background(), "plan the Acme project")

	events := f.Events()
	if len(events) != before+2 {
		t.Fatalf("Expected user + assistant events, got %d new", len(events)-before)
	}

	user := events[before].(event.ChatEvent)
	if user.Role != event.RoleUser || user.Content != "plan the Acme project" {
		t.Errorf("Unexpected user event %+v", user)
	}
	reply := events[before+1].(event.ChatEvent)
	if reply.Role != event.RoleAssistant || reply.Content != "Here's the plan." {
		t.Errorf("Unexpected assistant event %+v", reply)
	}
	if c.InFlight() {
		t.Error("Expected in-flight cleared after success")
	}
}

func TestSendMessageEmptyIsNoOp(t *testing.T) {
	agent := &stubAgent{resp: "nope"}
	c, f := newController(agent)

	before := f.Len()
	c.SendMessage(context.Background(), "")
	c.SendMessage(context.Background(), "   ")

	if f.Len() != before {
		t.Errorf("Expected feed unchanged, got %d -> %d", before, f.Len())
	}
	if agent.callCount() != 0 {
		t.Errorf("Expected no agent calls, got %d", agent.callCount())
	}
}

func TestSendMessageFailureAppendsExplanation(t *testing.T) {
	agent := &stubAgent{err: errors.New("boom")}
	c, f := newController(agent)

	before := f.Len()
	c.SendMessage(context.Background(), "hello")

	events := f.Events()
	if len(events) != before+2 {
		t.Fatalf("Expected user + error events, got %d new", len(events)-before)
	}
	reply := events[before+1].(event.ChatEvent)
	if reply.Role != event.RoleAssistant {
		t.Errorf("Expected assistant-shaped error event, got role %q", reply.Role)
	}
	if reply.Content == "" || reply.Content == "boom" {
		t.Errorf("Expected humanized explanation, got %q", reply.Content)
	}
	if c.InFlight() {
		t.Error("Expected in-flight cleared after failure")
	}
}

func TestSendMessageRejectsConcurrentDuplicate(t *testing.T) {
	agent := &stubAgent{
		resp:    "done",
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c, f := newController(agent)

	go c.SendMessage(context.Background(), "first")
	<-agent.started

	// Second send while the first is outstanding must be rejected.
	c.SendMessage(context.Background(), "second")
	if agent.callCount() != 1 {
		t.Errorf("Expected 1 agent call, got %d", agent.callCount())
	}

	close(agent.block)
	deadline := time.Now().Add(time.Second)
	for c.InFlight() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Only the first exchange landed: user + reply.
	var contents []string
	for _, ev := range f.Events() {
		if ce, ok := ev.(event.ChatEvent); ok {
			contents = append(contents, ce.Content)
		}
	}
	for _, got := range contents {
		if got == "second" {
			t.Error("Duplicate submission should not reach the feed")
		}
	}
}

func TestLateReplyCountsUnreadWhenClosed(t *testing.T) {
	agent := &stubAgent{
		resp:    "late",
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c, f := newController(agent)

	c.Toggle() // open
	go c.SendMessage(context.Background(), "slow question")
	<-agent.started

	c.Toggle() // close while in flight; request keeps running
	unreadBefore := f.Unread()

	close(agent.block)
	deadline := time.Now().Add(time.Second)
	for c.InFlight() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if f.Unread() != unreadBefore+1 {
		t.Errorf("Expected late reply to count unread, got %d -> %d", unreadBefore, f.Unread())
	}
}
