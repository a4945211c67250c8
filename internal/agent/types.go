// Package agent drives the orchestrator boundary: synchronous query runs
// against the upstream agent service, with business events emitted on the
// bus as runs progress.
package agent

// Agent identifiers used in emitted business events.
const (
	AgentOrchestrator       = "orchestrator"
	AgentResourceManagement = "resource_management"
	AgentProjectManagement  = "project_management"
)

// Result is the outcome of a completed orchestrator run.
type Result struct {
	Response     string
	Orchestrator string
}

// upstreamRequest is the wire shape sent to the orchestrator service.
type upstreamRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// upstreamResponse is the wire shape returned by the orchestrator service.
type upstreamResponse struct {
	Response     string `json:"response,omitempty"`
	Orchestrator string `json:"orchestrator,omitempty"`
	Error        string `json:"error,omitempty"`
}
