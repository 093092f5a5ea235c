package agent

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTranscriptAssemblesStreamedText(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Apply(Event{Type: EventRunStarted, RunID: "run-1"})
	tr.Apply(Event{Type: EventTextMessageStart, MessageID: "m1", Role: "assistant"})
	tr.Apply(Event{Type: EventTextMessageContent, MessageID: "m1", Delta: "The PM is "})
	tr.Apply(Event{Type: EventTextMessageContent, MessageID: "m1", Delta: "Jane Doe."})
	tr.Apply(Event{Type: EventTextMessageEnd, MessageID: "m1"})
	tr.Apply(Event{Type: EventRunFinished, RunID: "run-1"})

	if tr.Status != RunFinished {
		t.Fatalf("expected finished status, got %v", tr.Status)
	}
	if len(tr.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(tr.Messages))
	}
	if got := tr.Messages[0].Content; got != "The PM is Jane Doe." {
		t.Fatalf("unexpected assembled content: %q", got)
	}
	if got := tr.Messages[0].Role; got != "assistant" {
		t.Fatalf("unexpected role: %q", got)
	}
}

func TestTranscriptToolCallLifecycle(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Apply(Event{Type: EventToolCallStart, ToolCallID: "t1", ToolCallName: "find_experts_by_topic"})
	tr.Apply(Event{Type: EventToolCallArgs, ToolCallID: "t1", Delta: `{"topic":`})
	tr.Apply(Event{Type: EventToolCallArgs, ToolCallID: "t1", Delta: `"pipelines"}`})

	if len(tr.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(tr.ToolCalls))
	}
	if got := tr.ToolCalls[0].Status; got != ToolCallRunning {
		t.Fatalf("expected running status, got %v", got)
	}
	if got := tr.ToolCalls[0].Args; got != `{"topic":"pipelines"}` {
		t.Fatalf("unexpected args: %q", got)
	}

	tr.Apply(Event{Type: EventToolCallResult, ToolCallID: "t1", Content: "3 experts found"})
	if got := tr.ToolCalls[0].Status; got != ToolCallDone {
		t.Fatalf("expected done status, got %v", got)
	}
	if got := tr.ToolCalls[0].Result; got != "3 experts found" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestTranscriptIgnoresUnknownIDsAndTypes(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Apply(Event{Type: EventTextMessageContent, MessageID: "ghost", Delta: "x"})
	tr.Apply(Event{Type: EventToolCallArgs, ToolCallID: "ghost", Delta: "y"})
	tr.Apply(Event{Type: EventToolCallEnd, ToolCallID: "ghost"})
	tr.Apply(Event{Type: EventType("SOMETHING_NEW"), Message: "ignored"})
	tr.Apply(Event{Type: EventRaw})

	if len(tr.Messages) != 0 || len(tr.ToolCalls) != 0 {
		t.Fatalf("expected nothing projected, got %d messages, %d tool calls", len(tr.Messages), len(tr.ToolCalls))
	}
	if tr.Status != RunIdle {
		t.Fatalf("expected idle status, got %v", tr.Status)
	}
}

func TestTranscriptDuplicateStartIgnored(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Apply(Event{Type: EventTextMessageStart, MessageID: "m1", Role: "assistant"})
	tr.Apply(Event{Type: EventTextMessageContent, MessageID: "m1", Delta: "once"})
	tr.Apply(Event{Type: EventTextMessageStart, MessageID: "m1", Role: "assistant"})

	if len(tr.Messages) != 1 {
		t.Fatalf("expected 1 message after duplicate start, got %d", len(tr.Messages))
	}
	if got := tr.Messages[0].Content; got != "once" {
		t.Fatalf("duplicate start must not reset content, got %q", got)
	}
}

func TestTranscriptBannerTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", BannerMaxLen+100)
	tr := NewTranscript()
	tr.Apply(Event{Type: EventRunError, Message: long})

	if tr.Status != RunErrored {
		t.Fatalf("expected errored status, got %v", tr.Status)
	}
	if got := len([]rune(tr.Banner)); got != BannerMaxLen+1 {
		t.Fatalf("expected banner of %d runes, got %d", BannerMaxLen+1, got)
	}
	if !strings.HasSuffix(tr.Banner, "…") {
		t.Fatalf("expected truncation marker, got %q", tr.Banner[len(tr.Banner)-10:])
	}

	tr.DismissBanner()
	if tr.Banner != "" {
		t.Fatal("expected banner cleared after dismiss")
	}
}

func TestTranscriptBannerTruncationMultibyte(t *testing.T) {
	t.Parallel()

	// Multi-byte runes must not be split mid-sequence by the cutoff.
	long := strings.Repeat("日本語エラー", BannerMaxLen)
	tr := NewTranscript()
	tr.Apply(Event{Type: EventRunError, Message: long})

	if !utf8.ValidString(tr.Banner) {
		t.Fatal("expected truncated banner to be valid UTF-8")
	}
	if got := len([]rune(tr.Banner)); got != BannerMaxLen+1 {
		t.Fatalf("expected banner of %d runes, got %d", BannerMaxLen+1, got)
	}
	if !strings.HasPrefix(tr.Banner, "日本語") {
		t.Fatalf("expected banner to keep leading runes, got %q", tr.Banner[:12])
	}
}

func TestTranscriptBannerDefaultMessage(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Apply(Event{Type: EventRunError})
	if tr.Banner == "" {
		t.Fatal("expected a fallback banner for empty error message")
	}
}

func TestTranscriptInterrupt(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Apply(Event{Type: EventRunStarted, RunID: "run-1"})
	tr.Apply(Event{Type: EventInterrupt})

	if tr.Status != RunInterrupted {
		t.Fatalf("expected interrupted status, got %v", tr.Status)
	}
}

func TestTranscriptCloneIsIndependent(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Apply(Event{Type: EventTextMessageStart, MessageID: "m1"})
	tr.Apply(Event{Type: EventTextMessageContent, MessageID: "m1", Delta: "before"})

	clone := tr.Clone()
	tr.Apply(Event{Type: EventTextMessageContent, MessageID: "m1", Delta: " after"})

	if got := clone.Messages[0].Content; got != "before" {
		t.Fatalf("clone mutated by original: %q", got)
	}
	if got, _ := tr.MessageContent("m1"); got != "before after" {
		t.Fatalf("original lost its mutation: %q", got)
	}
}

func TestParseEventRejectsUntypedPayloads(t *testing.T) {
	t.Parallel()

	if _, err := ParseEvent([]byte(`{"delta":"x"}`)); err == nil {
		t.Fatal("expected error for payload without type")
	}
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}

	ev, err := ParseEvent([]byte(`{"type":"TEXT_MESSAGE_CONTENT","messageId":"m1","delta":"hi"}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if ev.Type != EventTextMessageContent || ev.MessageID != "m1" || ev.Delta != "hi" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
