package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/n9-labs/frontend/internal/config"
	"github.com/n9-labs/frontend/internal/dispatch"
	"github.com/n9-labs/frontend/internal/domain"
)

// fakeRuns is a scriptable Dispatcher.
type fakeRuns struct {
	mu         sync.Mutex
	busy       bool
	dispatches []string
	dispatchErr error
	errorsSeen []string
	ended      int
}

func (f *fakeRuns) Dispatch(ctx context.Context, userID, sessionID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches = append(f.dispatches, message)
	return f.dispatchErr
}

func (f *fakeRuns) Busy(userID, sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeRuns) PublishError(userID, sessionID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorsSeen = append(f.errorsSeen, message)
}

func (f *fakeRuns) EndSession(userID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
}

func (f *fakeRuns) setBusy(b bool) {
	f.mu.Lock()
	f.busy = b
	f.mu.Unlock()
}

func (f *fakeRuns) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatches)
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}
}

func waitForDispatches(t *testing.T, runs *fakeRuns, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runs.dispatchCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d dispatches, have %d", want, runs.dispatchCount())
}

func TestStartChatDispatchesInitialMessageOnce(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{}
	ctl := NewController(runs, nil, testConfig(), nil)

	sess, err := ctl.StartChat(context.Background(), "u1", "s1", "  who is the PM?  ")
	if err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	if !sess.InChat() {
		t.Fatal("expected session in chat view")
	}
	if sess.PendingMessage != "who is the PM?" {
		t.Fatalf("expected trimmed pending message, got %q", sess.PendingMessage)
	}

	// Render storm: every re-render re-evaluates the delivery decision.
	for i := 0; i < 50; i++ {
		ctl.Evaluate("u1", "s1")
	}

	waitForDispatches(t, runs, 1)
	time.Sleep(50 * time.Millisecond)
	if got := runs.dispatchCount(); got != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", got)
	}
	if runs.dispatches[0] != "who is the PM?" {
		t.Fatalf("unexpected dispatched message: %q", runs.dispatches[0])
	}
}

func TestStartChatRejectsWhitespaceOnly(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{}
	ctl := NewController(runs, nil, testConfig(), nil)

	sess, err := ctl.StartChat(context.Background(), "u1", "s1", "   \n\t  ")
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if sess.InChat() {
		t.Fatal("expected session to stay on landing")
	}

	time.Sleep(50 * time.Millisecond)
	if got := runs.dispatchCount(); got != 0 {
		t.Fatalf("expected zero dispatches, got %d", got)
	}
}

func TestStartChatWaitsForBusyBackend(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{busy: true}
	ctl := NewController(runs, nil, testConfig(), nil)

	if _, err := ctl.StartChat(context.Background(), "u1", "s1", "hello"); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := runs.dispatchCount(); got != 0 {
		t.Fatalf("expected no dispatch while backend busy, got %d", got)
	}
	if got := ctl.GuardState("u1", "s1"); got != dispatch.StateWaitingForReady {
		t.Fatalf("expected waiting state, got %v", got)
	}

	runs.setBusy(false)
	ctl.HandleReady("u1", "s1")

	waitForDispatches(t, runs, 1)
}

func TestStartChatSurfacesExhaustedDelivery(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{dispatchErr: errors.New("agent unreachable")}
	ctl := NewController(runs, nil, config.DispatchConfig{MaxAttempts: 2, RetryBackoff: 10 * time.Millisecond}, nil)

	if _, err := ctl.StartChat(context.Background(), "u1", "s1", "hello"); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}

	waitForDispatches(t, runs, 2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runs.mu.Lock()
		n := len(runs.errorsSeen)
		runs.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if len(runs.errorsSeen) != 1 {
		t.Fatalf("expected one published error, got %d", len(runs.errorsSeen))
	}
	// The session stays in chat; the failure is a banner, not a teardown.
	sess := ctl.Get("u1", "s1")
	if !sess.InChat() {
		t.Fatal("expected session to remain in chat after delivery failure")
	}
}

func TestEndChatIsIdempotent(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{}
	ctl := NewController(runs, nil, testConfig(), nil)

	if _, err := ctl.StartChat(context.Background(), "u1", "s1", "hello"); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}

	ctl.EndChat(context.Background(), "u1", "s1")
	ctl.EndChat(context.Background(), "u1", "s1")

	sess := ctl.Get("u1", "s1")
	if sess.InChat() {
		t.Fatal("expected landing view after end")
	}
	if sess.PendingMessage != "" {
		t.Fatalf("expected pending message cleared, got %q", sess.PendingMessage)
	}

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if runs.ended != 2 {
		t.Fatalf("expected backend EndSession per call, got %d", runs.ended)
	}
}

func TestStartChatReplacesActiveChat(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{}
	ctl := NewController(runs, nil, testConfig(), nil)

	if _, err := ctl.StartChat(context.Background(), "u1", "s1", "first"); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	waitForDispatches(t, runs, 1)

	sess, err := ctl.StartChat(context.Background(), "u1", "s1", "second")
	if err != nil {
		t.Fatalf("second StartChat failed: %v", err)
	}
	if sess.PendingMessage != "second" {
		t.Fatalf("expected new pending message, got %q", sess.PendingMessage)
	}

	waitForDispatches(t, runs, 2)

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if runs.ended != 1 {
		t.Fatalf("expected previous chat ended once, got %d", runs.ended)
	}
	if runs.dispatches[1] != "second" {
		t.Fatalf("unexpected second dispatch: %q", runs.dispatches[1])
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{}
	ctl := NewController(runs, nil, testConfig(), nil)

	if _, err := ctl.StartChat(context.Background(), "u1", "tab-a", "from tab a"); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}

	sessB := ctl.Get("u1", "tab-b")
	if sessB.InChat() {
		t.Fatal("expected other tab to stay on landing")
	}
	if sessB.ViewMode != domain.ViewLanding {
		t.Fatalf("expected landing view, got %v", sessB.ViewMode)
	}

	ctl.EndChat(context.Background(), "u1", "tab-b")
	sessA := ctl.Get("u1", "tab-a")
	if !sessA.InChat() {
		t.Fatal("ending one tab must not touch another tab's session")
	}
}
