// Package api exposes the agent backend's HTTP surface: the synchronous
// query endpoint, the business-event push stream (NDJSON and WebSocket),
// and health.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/psalabs/pulse/internal/agent"
	"github.com/psalabs/pulse/internal/bus"
	"github.com/psalabs/pulse/internal/domain"
	"github.com/psalabs/pulse/internal/event"
	"github.com/psalabs/pulse/internal/identity"
	"github.com/psalabs/pulse/internal/store"
)

// maxRequestBodySize bounds query request bodies (1MB).
const maxRequestBodySize = 1 << 20

// keepaliveInterval paces blank-line keepalives on the NDJSON stream.
const keepaliveInterval = 10 * time.Second

// maxReplay caps how many archived events a subscriber can ask to replay.
const maxReplay = 100

// Handler serves the agent API.
type Handler struct {
	svc         agent.Processor
	repo        store.Repository
	bus         *bus.Bus
	rateLimiter *RateLimiter
	log         *slog.Logger
}

// NewHandler creates the agent API handler.
func NewHandler(svc agent.Processor, repo store.Repository, b *bus.Bus, rateLimit int, rateWindow time.Duration, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:         svc,
		repo:        repo,
		bus:         b,
		rateLimiter: NewRateLimiter(rateLimit, rateWindow),
		log:         log,
	}
}

// RegisterRoutes registers agent routes (behind identity middleware).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/agent", func(r chi.Router) {
		r.Post("/query", h.HandleQuery)
		r.Get("/events", h.HandleEvents)
	})
	r.Get("/ws/events", h.HandleEventsWS)
}

// queryRequest is the inbound body of POST /api/v1/agent/query.
type queryRequest struct {
	Query   string `json:"query"`
	Context struct {
		SessionID     string `json:"session_id"`
		UserInterface string `json:"user_interface"`
	} `json:"context"`
}

// queryResponse is the outbound body of POST /api/v1/agent/query.
type queryResponse struct {
	Response     string `json:"response,omitempty"`
	Status       string `json:"status"`
	Orchestrator string `json:"orchestrator,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleQuery handles POST /api/v1/agent/query.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Query == "" {
		http.Error(w, `{"error": "query is required"}`, http.StatusBadRequest)
		return
	}

	sessionID := req.Context.SessionID
	if sessionID == "" {
		sessionID = identity.SessionIDFromContext(r.Context())
	}

	h.log.Info("agent query request",
		"user_id", userID,
		"session_id", sessionID,
		"user_interface", req.Context.UserInterface,
		"query_length", len(req.Query),
	)

	now := time.Now()
	run := &domain.AgentSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		AgentName: agent.AgentOrchestrator,
		Status:    domain.SessionProcessing,
		Query:     req.Query,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateAgentSession(r.Context(), run); err != nil {
		h.log.Error("failed to record agent session", "error", err)
		// The run is still worth executing; persistence is best effort here.
	}

	result, err := h.svc.Process(r.Context(), req.Query, sessionID)
	if err != nil {
		run.Status = domain.SessionFailed
		run.Error = err.Error()
		h.finishRun(r, run)
		writeJSON(w, http.StatusBadGateway, queryResponse{
			Status: string(domain.SessionFailed),
			Error:  err.Error(),
		})
		return
	}

	run.Status = domain.SessionCompleted
	run.Response = result.Response
	h.finishRun(r, run)

	writeJSON(w, http.StatusOK, queryResponse{
		Response:     result.Response,
		Status:       string(domain.SessionCompleted),
		Orchestrator: result.Orchestrator,
	})
}

func (h *Handler) finishRun(r *http.Request, run *domain.AgentSession) {
	if err := h.repo.UpdateAgentSession(r.Context(), run); err != nil {
		h.log.Error("failed to finish agent session", "session_id", run.SessionID, "error", err)
	}
}

// HandleEvents handles GET /api/v1/agent/events: the NDJSON push stream.
// One business-event frame per line; blank lines are keepalives. A
// `replay=N` query parameter prepends up to N archived events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := h.bus.Subscribe(bus.DefaultBuffer)
	defer h.bus.Unsubscribe(id)

	h.log.Info("event stream connected", "user_id", userID, "session_id", sessionID, "subscriber", id)
	defer h.log.Info("event stream closed", "user_id", userID, "session_id", sessionID, "subscriber", id)

	if n := replayCount(r); n > 0 {
		archived, err := h.repo.RecentEvents(r.Context(), n)
		if err != nil {
			h.log.Warn("failed to load archived events for replay", "error", err)
		}
		for _, ev := range archived {
			if !h.writeFrame(w, flusher, ev) {
				return
			}
		}
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			if !h.writeFrame(w, flusher, ev) {
				return
			}
		}
	}
}

func (h *Handler) writeFrame(w http.ResponseWriter, flusher http.Flusher, ev event.BusinessEvent) bool {
	data, err := event.Encode(ev)
	if err != nil {
		h.log.Error("failed to encode event frame", "error", err)
		return true
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func replayCount(r *http.Request) int {
	v := r.URL.Query().Get("replay")
	if v == "" {
		return 0
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
		if n > maxReplay {
			return maxReplay
		}
	}
	return n
}

// HandleEventsWS handles GET /ws/events: the WebSocket push variant. Each
// business event is one text message.
func (h *Handler) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.log.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	// The client never sends application messages; CloseRead gives us a
	// context that ends when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	id, ch := h.bus.Subscribe(bus.DefaultBuffer)
	defer h.bus.Unsubscribe(id)

	h.log.Info("websocket event stream connected", "user_id", userID, "session_id", sessionID, "subscriber", id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := event.Encode(ev)
			if err != nil {
				h.log.Error("failed to encode event frame", "error", err)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write JSON response", "error", err)
	}
}
