// Package archive persists the business-event stream and sweeps expired
// server-side state in the background.
package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/psalabs/pulse/internal/bus"
	"github.com/psalabs/pulse/internal/event"
	"github.com/psalabs/pulse/internal/shared"
	"github.com/psalabs/pulse/internal/store"
)

const sweepInterval = 5 * time.Minute

// StartArchiver subscribes to the event bus and records every business
// event in the archive. It returns when ctx is canceled.
func StartArchiver(ctx context.Context, repo store.Repository, b *bus.Bus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	id, ch := b.Subscribe(bus.DefaultBuffer)
	go func() {
		defer b.Unsubscribe(id)
		log.Info("event archiver started", "subscriber", id)

		for {
			select {
			case <-ctx.Done():
				log.Info("event archiver shutting down", "reason", ctx.Err())
				return
			case ev, open := <-ch:
				if !open {
					return
				}
				if err := archiveWithRetry(ctx, repo, ev); err != nil {
					log.Error("failed to archive event",
						"error", err,
						"type", ev.Type,
						"agent_id", ev.AgentID)
				}
			}
		}
	}()
}

// archiveWithRetry attempts to persist an event with exponential backoff
// to handle SQLITE_BUSY errors.
func archiveWithRetry(ctx context.Context, repo store.Repository, ev event.BusinessEvent) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = repo.ArchiveEvent(ctx, ev)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("event archive write failed with SQLITE_BUSY, retrying",
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// StartSweeper runs a background goroutine that periodically removes
// expired agent query runs and aged-out archived events.
func StartSweeper(ctx context.Context, repo store.Repository, sessionTTL, archiveTTL time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		log.Info("sweeper started", "interval", sweepInterval, "session_ttl", sessionTTL, "archive_ttl", archiveTTL)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, sessionTTL, archiveTTL, log)
			case <-ctx.Done():
				log.Info("sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo store.Repository, sessionTTL, archiveTTL time.Duration, log *slog.Logger) {
	if deleted, err := repo.CleanupExpiredSessions(ctx, sessionTTL); err != nil {
		log.Error("sweeper failed to cleanup agent sessions", "error", err)
	} else if deleted > 0 {
		log.Info("sweeper removed expired agent sessions", "count", deleted)
	}

	if deleted, err := repo.CleanupArchivedEvents(ctx, archiveTTL); err != nil {
		log.Error("sweeper failed to cleanup archived events", "error", err)
	} else if deleted > 0 {
		log.Info("sweeper removed aged-out archived events", "count", deleted)
	}
}
