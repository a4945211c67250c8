// Package domain contains core domain types for the PSA dashboard backend.
package domain

import (
	"time"
)

// User represents an authenticated dashboard user.
type User struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stale reports whether the user has been inactive longer than ttl.
func (u *User) Stale(ttl time.Duration) bool {
	return time.Since(u.LastSeenAt) > ttl
}
