package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/n9-labs/frontend/internal/agent"
	"github.com/n9-labs/frontend/internal/config"
	"github.com/n9-labs/frontend/internal/identity"
)

func testSSEConfig() config.SSEConfig {
	return config.SSEConfig{
		KeepaliveInterval: time.Hour,
		RetryDelay:        5 * time.Second,
		ReplayBufferSize:  10,
	}
}

func TestSSEStreamDeliversEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(10)
	handler := NewSSEHandler(hub, testSSEConfig())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/chat/stream", nil)
	req = req.WithContext(identity.WithIdentity(ctx, "u1", "s1"))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	// Wait until the subscription is registered, then publish.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("u1", "s1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish("u1", "s1", agent.Event{Type: agent.EventRunStarted, RunID: "r1"})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "retry: 5000") {
		t.Fatalf("expected retry hint in stream, got:\n%s", body)
	}
	if !strings.Contains(body, `"type":"RUN_STARTED"`) {
		t.Fatalf("expected published event in stream, got:\n%s", body)
	}
	if !strings.Contains(body, "id: 1") {
		t.Fatalf("expected event ID line, got:\n%s", body)
	}
}

func TestSSEStreamReplaysFromLastEventID(t *testing.T) {
	t.Parallel()

	hub := NewHub(10)
	handler := NewSSEHandler(hub, testSSEConfig())

	hub.Publish("u1", "s1", agent.Event{Type: agent.EventRunStarted})
	hub.Publish("u1", "s1", agent.Event{Type: agent.EventRunFinished})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/chat/stream", nil)
	req.Header.Set("Last-Event-ID", "1")
	req = req.WithContext(identity.WithIdentity(ctx, "u1", "s1"))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, `"type":"RUN_STARTED"`) {
		t.Fatalf("expected already-seen event skipped, got:\n%s", body)
	}
	if !strings.Contains(body, `"type":"RUN_FINISHED"`) {
		t.Fatalf("expected missed event replayed, got:\n%s", body)
	}
}

func TestSSEStreamRequiresIdentity(t *testing.T) {
	t.Parallel()

	handler := NewSSEHandler(NewHub(10), testSSEConfig())
	req := httptest.NewRequest("GET", "/api/chat/stream", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
}
