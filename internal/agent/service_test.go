package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/psalabs/pulse/internal/bus"
	"github.com/psalabs/pulse/internal/event"
)

type fakeProcessor struct {
	result *Result
	err    error
}

func (p *fakeProcessor) Process(ctx context.Context, query, sessionID string) (*Result, error) {
	return p.result, p.err
}

func TestServiceEmitsUpdateOnSuccess(t *testing.T) {
	b := bus.New(nil)
	_, ch := b.Subscribe(4)

	svc := NewService(&fakeProcessor{result: &Result{Response: "all good", Orchestrator: AgentOrchestrator}}, b, nil)
	result, err := svc.Process(context.Background(), "q", "s1")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Response != "all good" {
		t.Errorf("Unexpected result %+v", result)
	}

	ev := <-ch
	if ev.Type != event.TypeUpdate {
		t.Errorf("Expected UPDATE event, got %q", ev.Type)
	}
	if !strings.Contains(ev.Message, "all good") {
		t.Errorf("Expected summary in message, got %q", ev.Message)
	}
}

func TestServiceEmitsErrorOnFailure(t *testing.T) {
	b := bus.New(nil)
	_, ch := b.Subscribe(4)

	svc := NewService(&fakeProcessor{err: errors.New("model offline")}, b, nil)
	if _, err := svc.Process(context.Background(), "q", "s1"); err == nil {
		t.Fatal("Expected error")
	}

	ev := <-ch
	if ev.Type != event.TypeError {
		t.Errorf("Expected ERROR event, got %q", ev.Type)
	}
	if ev.AgentID != AgentOrchestrator {
		t.Errorf("Expected orchestrator agent_id, got %q", ev.AgentID)
	}
}

func TestServiceTruncatesLongSummaries(t *testing.T) {
	b := bus.New(nil)
	_, ch := b.Subscribe(4)

	long := strings.Repeat("x", 500)
	svc := NewService(&fakeProcessor{result: &Result{Response: long, Orchestrator: AgentOrchestrator}}, b, nil)
	if _, err := svc.Process(context.Background(), "q", "s1"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	ev := <-ch
	if len(ev.Message) > len("Query processed successfully: ")+summaryLimit+3 {
		t.Errorf("Expected truncated summary, got %d chars", len(ev.Message))
	}
	if !strings.HasSuffix(ev.Message, "...") {
		t.Errorf("Expected ellipsis suffix, got %q", ev.Message[len(ev.Message)-10:])
	}
}

func TestHTTPProcessor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"response":"42","orchestrator":"orchestrator"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, 0, nil)
	result, err := p.Process(context.Background(), "meaning of life", "s1")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Response != "42" {
		t.Errorf("Unexpected response %q", result.Response)
	}
}

func TestHTTPProcessorUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"no model"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, 0, nil)
	if _, err := p.Process(context.Background(), "q", "s1"); err == nil {
		t.Error("Expected error for upstream error field")
	}
}
