// Package session scopes the sidebar runtime to one authenticated identity:
// the feed, the push stream, the agent gateway, and the sidebar controller
// are built together at login and torn down together at logout. Nothing here
// is a package-level singleton; consumers receive the session explicitly or
// through the context helpers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/psalabs/pulse/internal/domain"
	"github.com/psalabs/pulse/internal/feed"
	"github.com/psalabs/pulse/internal/gateway"
	"github.com/psalabs/pulse/internal/sidebar"
	"github.com/psalabs/pulse/internal/stream"
)

// ErrNilUser means Start was called before authentication completed. This is
// a programming error in the caller, not a runtime condition to retry.
var ErrNilUser = errors.New("session: cannot start without an authenticated user")

// Config carries the knobs a session needs to reach the agent backend.
type Config struct {
	// AgentBaseURL is the backend origin for both the push stream and the
	// query endpoint.
	AgentBaseURL string
	Transport    stream.Transport
	Retry        stream.RetryPolicy
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// Session owns all sidebar state for one identity.
type Session struct {
	ID      string
	User    *domain.User
	Feed    *feed.Feed
	Stream  *stream.Client
	Gateway *gateway.Client
	Sidebar *sidebar.Controller

	cfg Config
	log *slog.Logger
}

// Start builds a session for the given user and establishes the push
// stream. The feed starts with the synthetic welcome message.
func Start(ctx context.Context, cfg Config, user *domain.User) (*Session, error) {
	if user == nil {
		return nil, ErrNilUser
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		ID:   uuid.NewString(),
		User: user,
		cfg:  cfg,
		log:  log,
	}
	s.build()

	if err := s.Stream.Establish(ctx); err != nil {
		return nil, fmt.Errorf("establish event stream: %w", err)
	}
	log.Info("session started", "session_id", s.ID, "user_id", user.UserID)
	return s, nil
}

// build wires a fresh feed, stream, gateway, and controller.
func (s *Session) build() {
	s.Feed = feed.New()
	s.Stream = stream.New(stream.Config{
		BaseURL:   s.cfg.AgentBaseURL,
		SessionID: s.ID,
		Transport: s.cfg.Transport,
		Retry:     s.cfg.Retry,
		Logger:    s.log,
	}, s.Feed)
	s.Gateway = gateway.New(gateway.Config{
		BaseURL: s.cfg.AgentBaseURL,
		Timeout: s.cfg.QueryTimeout,
		Logger:  s.log,
	})
	s.Sidebar = sidebar.NewController(s.Feed, s.Gateway, s.ID, s.log)
}

// SetIdentity reacts to an auth change. A nil user is a logout: the stream
// is torn down and the feed abandoned. A different user gets a fresh feed
// and a new connection; the same user is a no-op.
func (s *Session) SetIdentity(ctx context.Context, user *domain.User) error {
	if user == nil {
		s.log.Info("identity cleared, tearing session down", "session_id", s.ID)
		s.Close()
		s.User = nil
		return nil
	}
	if s.User != nil && s.User.UserID == user.UserID {
		return nil
	}

	s.Stream.Teardown()
	s.User = user
	s.ID = uuid.NewString()
	s.build()
	if err := s.Stream.Establish(ctx); err != nil {
		return fmt.Errorf("re-establish event stream: %w", err)
	}
	s.log.Info("session identity switched", "session_id", s.ID, "user_id", user.UserID)
	return nil
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	if s.Stream != nil {
		s.Stream.Teardown()
	}
}

type contextKey struct{}

// NewContext attaches the session to a context for UI code.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session, if one was attached.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}

// MustFromContext returns the session or panics. Consuming the sidebar
// outside a session scope is an integration bug that should surface the
// moment the code runs, not degrade quietly.
func MustFromContext(ctx context.Context) *Session {
	s, ok := FromContext(ctx)
	if !ok {
		panic("session: no session in context; wrap the UI context with session.NewContext")
	}
	return s
}
