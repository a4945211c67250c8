package feed

import (
	"fmt"
	"testing"

	"github.com/psalabs/pulse/internal/event"
)

func TestNewSeedsWelcome(t *testing.T) {
	f := New()

	if f.Len() != 1 {
		t.Fatalf("Expected 1 seeded event, got %d", f.Len())
	}
	ce, ok := f.Last().(event.ChatEvent)
	if !ok {
		t.Fatalf("Expected ChatEvent, got %T", f.Last())
	}
	if ce.Role != event.RoleAssistant {
		t.Errorf("Expected assistant welcome, got role %q", ce.Role)
	}
	if ce.Content != WelcomeMessage {
		t.Errorf("Expected welcome content, got %q", ce.Content)
	}
}

func TestAppendPreservesArrivalOrder(t *testing.T) {
	f := New()

	// Timestamps deliberately run backwards: arrival order must win.
	for i := 0; i < 5; i++ {
		f.Append(event.BusinessEvent{
			Type:      event.TypeUpdate,
			Message:   fmt.Sprintf("msg-%d", i),
			AgentID:   "orchestrator",
			Timestamp: fmt.Sprintf("2025-03-14T09:%02d:00Z", 59-i),
		})
	}

	events := f.Events()
	if len(events) != 6 {
		t.Fatalf("Expected 6 events, got %d", len(events))
	}
	for i := 0; i < 5; i++ {
		be := events[i+1].(event.BusinessEvent)
		want := fmt.Sprintf("msg-%d", i)
		if be.Message != want {
			t.Errorf("Position %d: expected %q, got %q", i+1, want, be.Message)
		}
	}
}

func TestAppendKeepsDuplicates(t *testing.T) {
	f := New()
	ev := event.BusinessEvent{
		Type:      event.TypePTOConflict,
		Message:   "Riley overlaps with Jordan",
		AgentID:   "resource_management",
		Timestamp: "2025-03-14T09:26:53Z",
	}

	f.Append(ev)
	f.Append(ev)

	if f.Len() != 3 {
		t.Errorf("Expected both duplicate events kept, got len %d", f.Len())
	}
}

func TestUnreadAccounting(t *testing.T) {
	f := New()

	// Feed starts hidden: the welcome seed and both appends count.
	f.Append(event.NewChat(event.RoleUser, "a"))
	f.Append(event.NewChat(event.RoleAssistant, "b"))
	if got := f.Unread(); got != 3 {
		t.Errorf("Expected 3 unread while hidden, got %d", got)
	}

	f.SetVisible(true)
	if got := f.Unread(); got != 0 {
		t.Errorf("Expected unread reset on open, got %d", got)
	}

	// Appends while open do not count.
	f.Append(event.NewChat(event.RoleUser, "c"))
	if got := f.Unread(); got != 0 {
		t.Errorf("Expected 0 unread while open, got %d", got)
	}

	f.SetVisible(false)
	f.Append(event.NewChat(event.RoleAssistant, "d"))
	f.Append(event.NewChat(event.RoleAssistant, "e"))
	if got := f.Unread(); got != 2 {
		t.Errorf("Expected 2 unread after closing, got %d", got)
	}
}

func TestSetVisibleTrueIsIdempotentForUnread(t *testing.T) {
	f := New()
	f.SetVisible(true)
	f.Append(event.NewChat(event.RoleUser, "a"))

	// Re-opening an already open sidebar must not clear anything extra,
	// and unread stays 0 because the feed was visible at append time.
	f.SetVisible(true)
	if got := f.Unread(); got != 0 {
		t.Errorf("Expected 0 unread, got %d", got)
	}
}

func TestRecordChatRoundTrip(t *testing.T) {
	f := New()
	f.RecordChat(event.RoleUser, "hello")

	last, ok := f.Last().(event.ChatEvent)
	if !ok {
		t.Fatalf("Expected ChatEvent, got %T", f.Last())
	}
	if last.Kind() != event.KindChat {
		t.Errorf("Expected kind chat, got %q", last.Kind())
	}
	if last.Role != event.RoleUser {
		t.Errorf("Expected role user, got %q", last.Role)
	}
	if last.Content != "hello" {
		t.Errorf("Expected content hello, got %q", last.Content)
	}
}

func TestEventsReturnsSnapshot(t *testing.T) {
	f := New()
	snap := f.Events()
	f.Append(event.NewChat(event.RoleUser, "later"))

	if len(snap) != 1 {
		t.Errorf("Snapshot mutated by later append: len %d", len(snap))
	}
}

func TestNotifyCoalesces(t *testing.T) {
	f := New()
	for i := 0; i < 10; i++ {
		f.Append(event.NewChat(event.RoleUser, "x"))
	}

	select {
	case <-f.Notify():
	default:
		t.Fatal("Expected pending notification")
	}
	select {
	case <-f.Notify():
		t.Error("Expected notifications to coalesce to one pending tick")
	default:
	}
}
