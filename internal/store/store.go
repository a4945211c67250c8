// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/psalabs/pulse/internal/domain"
	"github.com/psalabs/pulse/internal/event"
)

// Repository defines the interface for persisting users, agent query
// sessions, and the server-side event archive.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateAgentSession records a new query run in the queued state.
	CreateAgentSession(ctx context.Context, session *domain.AgentSession) error

	// UpdateAgentSession persists status, response, and error for a run.
	UpdateAgentSession(ctx context.Context, session *domain.AgentSession) error

	// GetAgentSession retrieves one query run.
	GetAgentSession(ctx context.Context, sessionID string) (*domain.AgentSession, error)

	// CleanupExpiredSessions removes query runs older than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// ArchiveEvent appends a business event to the server-side archive.
	ArchiveEvent(ctx context.Context, ev event.BusinessEvent) error

	// RecentEvents returns up to limit archived events, oldest first.
	RecentEvents(ctx context.Context, limit int) ([]event.BusinessEvent, error)

	// CleanupArchivedEvents removes archived events older than ttl.
	CleanupArchivedEvents(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
