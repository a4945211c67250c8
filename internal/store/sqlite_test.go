package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/psalabs/pulse/internal/domain"
	"github.com/psalabs/pulse/internal/event"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "pulse.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	user := &domain.User{
		UserID:     "u1",
		Username:   "dana",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err := repo.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil || got.Username != "dana" {
		t.Errorf("Unexpected user %+v", got)
	}

	missing, err := repo.GetUser(ctx, "nope")
	if err != nil {
		t.Fatalf("GetUser(missing) failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing user, got %+v", missing)
	}
}

func TestAgentSessionLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := &domain.AgentSession{
		SessionID: "s1",
		UserID:    "u1",
		AgentName: "orchestrator",
		Status:    domain.SessionQueued,
		Query:     "who is free?",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateAgentSession(ctx, sess); err != nil {
		t.Fatalf("CreateAgentSession failed: %v", err)
	}

	sess.Status = domain.SessionCompleted
	sess.Response = "Dana is free."
	if err := repo.UpdateAgentSession(ctx, sess); err != nil {
		t.Fatalf("UpdateAgentSession failed: %v", err)
	}

	got, err := repo.GetAgentSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetAgentSession failed: %v", err)
	}
	if got.Status != domain.SessionCompleted || got.Response != "Dana is free." {
		t.Errorf("Unexpected session %+v", got)
	}
	if !got.Finished() {
		t.Error("Expected finished session")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	sess := &domain.AgentSession{
		SessionID: "old",
		UserID:    "u1",
		AgentName: "orchestrator",
		Status:    domain.SessionCompleted,
		Query:     "q",
		CreatedAt: old,
		UpdatedAt: old,
	}
	if err := repo.CreateAgentSession(ctx, sess); err != nil {
		t.Fatalf("CreateAgentSession failed: %v", err)
	}

	// UpdateAgentSession stamps updated_at with now, so write the old row
	// directly via Create only and clean with a 1h TTL.
	deleted, err := repo.CleanupExpiredSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted session, got %d", deleted)
	}
}

func TestEventArchive(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	for i, msg := range []string{"first", "second", "third"} {
		ev := event.BusinessEvent{
			Type:      event.TypeUpdate,
			Message:   msg,
			AgentID:   "orchestrator",
			Timestamp: time.Now().Add(time.Duration(i) * time.Second).UTC().Format(time.RFC3339),
		}
		if err := repo.ArchiveEvent(ctx, ev); err != nil {
			t.Fatalf("ArchiveEvent failed: %v", err)
		}
	}

	events, err := repo.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Message != "second" || events[1].Message != "third" {
		t.Errorf("Expected oldest-first window, got %q then %q", events[0].Message, events[1].Message)
	}
}

func TestCleanupArchivedEvents(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	ev := event.BusinessEvent{Type: event.TypeUpdate, Message: "m", AgentID: "a", Timestamp: "2025-03-14T09:26:53Z"}
	if err := repo.ArchiveEvent(ctx, ev); err != nil {
		t.Fatalf("ArchiveEvent failed: %v", err)
	}

	// Nothing is older than an hour yet.
	deleted, err := repo.CleanupArchivedEvents(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupArchivedEvents failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deleted, got %d", deleted)
	}
}
