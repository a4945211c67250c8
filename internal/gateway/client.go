// Package gateway is the thin request/response client for the agent
// backend's synchronous query endpoint. The backend itself is an external
// collaborator; this package only shapes the request, classifies failures,
// and turns them into text a person can act on.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// QueryPath is the synchronous agent endpoint.
const QueryPath = "/api/v1/agent/query"

// UserInterface identifies this surface to the backend.
const UserInterface = "sidebar"

var (
	// ErrEndpointNotFound means the query endpoint does not exist at the
	// configured base URL.
	ErrEndpointNotFound = errors.New("agent query endpoint not found")
	// ErrBackendFailure wraps non-2xx responses other than 404.
	ErrBackendFailure = errors.New("agent backend returned an error")
	// ErrEmptyResponse means the backend replied 2xx but with no usable text.
	ErrEmptyResponse = errors.New("agent backend returned an empty response")
)

// QueryRequest is the wire shape of a synchronous agent query.
type QueryRequest struct {
	Query   string       `json:"query"`
	Context QueryContext `json:"context"`
}

// QueryContext scopes a query to a session and surface.
type QueryContext struct {
	SessionID     string `json:"session_id"`
	UserInterface string `json:"user_interface"`
}

// QueryResponse is the wire shape of the backend's reply.
type QueryResponse struct {
	Response     string `json:"response,omitempty"`
	Status       string `json:"status"`
	Orchestrator string `json:"orchestrator,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Config holds gateway settings.
type Config struct {
	BaseURL string
	// Timeout bounds the full request/response roundtrip.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultTimeout bounds an agent roundtrip; orchestrator runs routinely take
// tens of seconds.
const DefaultTimeout = 60 * time.Second

// Client calls the agent query endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// New creates a gateway client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, http: httpc, log: log}
}

// Query sends text to the backend and returns its reply.
func (c *Client) Query(ctx context.Context, text, sessionID string) (*QueryResponse, error) {
	body, err := json.Marshal(QueryRequest{
		Query: text,
		Context: QueryContext{
			SessionID:     sessionID,
			UserInterface: UserInterface,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+QueryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrEndpointNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorBody(resp.Body)
		c.log.Warn("agent query failed", "status", resp.StatusCode, "body", msg)
		if msg != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrBackendFailure, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("%w: status %d", ErrBackendFailure, resp.StatusCode)
	}

	var out QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrBackendFailure, out.Error)
	}
	if strings.TrimSpace(out.Response) == "" {
		return nil, ErrEmptyResponse
	}
	return &out, nil
}

// readErrorBody extracts a short error string from a failed response,
// preferring a JSON {"error": ...} field.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}

// Humanize translates a query failure into the assistant-voiced explanation
// shown in the chat timeline. It must always return something readable; the
// sidebar renders it exactly like a real reply.
func Humanize(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEndpointNotFound):
		return "I couldn't find the agent service at the configured address. The backend may be running an older version without the query endpoint — check PULSE_AGENT_URL and restart the dashboard."
	case errors.Is(err, syscall.ECONNREFUSED):
		return "I couldn't reach the agent service — the connection was refused. Make sure the PSA agent backend is running and reachable, then try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The agent took too long to answer and the request timed out. It may still be busy; try again in a moment."
	case errors.Is(err, ErrEmptyResponse):
		return "The agent answered but sent back nothing I can show. Please try rephrasing your question."
	default:
		return fmt.Sprintf("Something went wrong while asking the agent: %v. Please try again.", err)
	}
}
