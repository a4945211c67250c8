package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/psalabs/pulse/internal/bus"
	"github.com/psalabs/pulse/internal/event"
)

// summaryLimit truncates run summaries in emitted events.
const summaryLimit = 200

// Service wraps a Processor and narrates runs on the event bus, mirroring
// what the pipeline's agents do for their own domain events.
type Service struct {
	processor Processor
	bus       *bus.Bus
	log       *slog.Logger
}

// NewService creates a service emitting on b.
func NewService(processor Processor, b *bus.Bus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{processor: processor, bus: b, log: log}
}

// Process runs a query, emitting an UPDATE event on completion or an ERROR
// event on failure.
func (s *Service) Process(ctx context.Context, query, sessionID string) (*Result, error) {
	s.log.Info("orchestrator run starting", "session_id", sessionID, "query_length", len(query))

	result, err := s.processor.Process(ctx, query, sessionID)
	if err != nil {
		s.log.Error("orchestrator run failed", "session_id", sessionID, "error", err)
		s.emit(event.TypeError, AgentOrchestrator, "Error processing query: "+err.Error())
		return nil, err
	}

	s.log.Info("orchestrator run complete", "session_id", sessionID, "orchestrator", result.Orchestrator)
	s.emit(event.TypeUpdate, result.Orchestrator, "Query processed successfully: "+truncate(result.Response, summaryLimit))
	return result, nil
}

func (s *Service) emit(typ event.BusinessType, agentID, message string) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(event.BusinessEvent{
		Type:      typ,
		Message:   message,
		AgentID:   agentID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Processor = (*Service)(nil)
