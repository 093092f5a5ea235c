package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport counts dispatch calls and scripts their outcomes.
type fakeTransport struct {
	mu    sync.Mutex
	calls int
	busy  bool
	errs  []error
	block chan struct{}
}

func (f *fakeTransport) Dispatch(ctx context.Context, message string) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if n-1 < len(f.errs) {
		return f.errs[n-1]
	}
	return nil
}

func (f *fakeTransport) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeTransport) setBusy(b bool) {
	f.mu.Lock()
	f.busy = b
	f.mu.Unlock()
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitForState(t *testing.T, g *Guard, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, got %v", want, g.State())
}

func TestGuardDispatchesExactlyOnce(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	g := New(tr, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, nil)

	g.SetMessage("hello")
	for i := 0; i < 50; i++ {
		g.Evaluate()
	}

	waitForState(t, g, StateSent)
	time.Sleep(50 * time.Millisecond)
	if got := tr.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", got)
	}
}

func TestGuardSameInstantTriggersProduceOneDispatch(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	g := New(tr, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, nil)
	g.SetMessage("hello")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Evaluate()
		}()
	}
	wg.Wait()

	waitForState(t, g, StateSent)
	if got := tr.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 dispatch from concurrent triggers, got %d", got)
	}
}

func TestGuardWaitsForBusyTransport(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{busy: true}
	g := New(tr, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, nil)

	g.SetMessage("hello")
	for i := 0; i < 10; i++ {
		g.Evaluate()
	}

	time.Sleep(50 * time.Millisecond)
	if got := tr.callCount(); got != 0 {
		t.Fatalf("expected no dispatch while busy, got %d", got)
	}
	if got := g.State(); got != StateWaitingForReady {
		t.Fatalf("expected waiting state, got %v", got)
	}

	tr.setBusy(false)
	g.Evaluate()

	waitForState(t, g, StateSent)
	if got := tr.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 dispatch after readiness flip, got %d", got)
	}
}

func TestGuardRetriesOnceThenSucceeds(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{errs: []error{errors.New("transient")}}
	g := New(tr, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, nil)

	g.SetMessage("hello")

	waitForState(t, g, StateSent)
	if got := tr.callCount(); got != 2 {
		t.Fatalf("expected failed attempt plus one retry (2 calls), got %d", got)
	}
	if got := g.Attempts(); got != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", got)
	}
}

func TestGuardReportsExhaustionAsNonFatal(t *testing.T) {
	t.Parallel()

	failure := errors.New("agent unreachable")
	tr := &fakeTransport{errs: []error{failure, failure, failure}}

	errCh := make(chan error, 1)
	g := New(tr, Config{
		MaxAttempts:  2,
		RetryBackoff: 10 * time.Millisecond,
		OnError:      func(err error) { errCh <- err },
	}, nil)

	g.SetMessage("hello")

	select {
	case err := <-errCh:
		if !errors.Is(err, failure) {
			t.Fatalf("expected wrapped dispatch error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exhaustion report")
	}

	if got := tr.callCount(); got != 2 {
		t.Fatalf("expected dispatch attempts capped at 2, got %d", got)
	}
	if got := g.State(); got != StateIdle {
		t.Fatalf("expected idle after exhaustion, got %v", got)
	}
}

func TestGuardIgnoresEmptyMessage(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	g := New(tr, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, nil)

	g.SetMessage("")
	for i := 0; i < 10; i++ {
		g.Evaluate()
	}

	time.Sleep(50 * time.Millisecond)
	if got := tr.callCount(); got != 0 {
		t.Fatalf("expected no dispatch for empty message, got %d", got)
	}
	if got := g.State(); got != StateIdle {
		t.Fatalf("expected idle state, got %v", got)
	}
}

func TestGuardSecondMessageIgnoredUntilReset(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{busy: true}
	g := New(tr, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, nil)

	g.SetMessage("first")
	g.SetMessage("second")

	tr.setBusy(false)
	g.Evaluate()
	waitForState(t, g, StateSent)

	if got := tr.callCount(); got != 1 {
		t.Fatalf("expected 1 dispatch, got %d", got)
	}
}

func TestGuardResetInvalidatesInflightDispatch(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	tr := &fakeTransport{block: block}
	g := New(tr, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, nil)

	g.SetMessage("hello")
	waitForState(t, g, StateSending)

	g.Reset()
	close(block)

	// The stale completion must not flip the fresh guard into sent.
	time.Sleep(50 * time.Millisecond)
	if got := g.State(); got != StateIdle {
		t.Fatalf("expected idle after reset, got %v", got)
	}
	if got := g.Attempts(); got != 0 {
		t.Fatalf("expected attempts cleared by reset, got %d", got)
	}
	if got := tr.callCount(); got != 1 {
		t.Fatalf("expected no extra dispatches after reset, got %d", got)
	}
}

func TestGuardResetThenNewMessageDispatchesAgain(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	g := New(tr, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}, nil)

	g.SetMessage("first")
	waitForState(t, g, StateSent)

	g.Reset()
	g.SetMessage("second")
	waitForState(t, g, StateSent)

	if got := tr.callCount(); got != 2 {
		t.Fatalf("expected one dispatch per session, got %d", got)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	cases := map[State]string{
		StateIdle:            "idle",
		StateWaitingForReady: "waiting_for_ready",
		StateSending:         "sending",
		StateSent:            "sent",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
