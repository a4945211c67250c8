package domain

import (
	"time"
)

// AgentSessionStatus is the lifecycle of one agent query run.
type AgentSessionStatus string

const (
	SessionQueued     AgentSessionStatus = "queued"
	SessionProcessing AgentSessionStatus = "processing"
	SessionCompleted  AgentSessionStatus = "completed"
	SessionFailed     AgentSessionStatus = "failed"
)

// AgentSession records one synchronous query run against the orchestrator.
type AgentSession struct {
	SessionID string
	UserID    string
	AgentName string
	Status    AgentSessionStatus
	Query     string
	Response  string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Finished reports whether the run reached a terminal status.
func (s *AgentSession) Finished() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed
}
