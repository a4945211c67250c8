package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

var errUpstreamFailure = errors.New("orchestrator returned an error")

// Processor runs one query against the agent pipeline.
type Processor interface {
	Process(ctx context.Context, query, sessionID string) (*Result, error)
}

// HTTPProcessor forwards queries to the upstream orchestrator service over
// HTTP JSON.
type HTTPProcessor struct {
	addr    string
	httpc   *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewHTTPProcessor creates a processor for the orchestrator at addr.
func NewHTTPProcessor(addr string, timeout time.Duration, log *slog.Logger) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPProcessor{
		addr:    addr,
		httpc:   &http.Client{},
		timeout: timeout,
		log:     log,
	}
}

// Process runs a query and returns the orchestrator's answer.
func (p *HTTPProcessor) Process(ctx context.Context, query, sessionID string) (*Result, error) {
	body, err := json.Marshal(upstreamRequest{Query: query, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal orchestrator request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.addr+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build orchestrator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", errUpstreamFailure, resp.StatusCode)
	}

	var out upstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode orchestrator response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", errUpstreamFailure, out.Error)
	}

	orch := out.Orchestrator
	if orch == "" {
		orch = AgentOrchestrator
	}
	return &Result{Response: out.Response, Orchestrator: orch}, nil
}

var _ Processor = (*HTTPProcessor)(nil)
