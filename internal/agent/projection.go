package agent

// BannerMaxLen bounds the displayed length of an agent-reported error.
const BannerMaxLen = 500

// RunStatus summarizes the state of the current run for the chat view.
type RunStatus string

const (
	// RunIdle means no run has started yet.
	RunIdle RunStatus = "idle"
	// RunActive means a run is streaming.
	RunActive RunStatus = "running"
	// RunFinished means the last run completed normally.
	RunFinished RunStatus = "finished"
	// RunErrored means the last run reported an error.
	RunErrored RunStatus = "errored"
	// RunInterrupted means the last run was interrupted by the user.
	RunInterrupted RunStatus = "interrupted"
)

// ToolCallStatus tracks the lifecycle of one tool-call card.
type ToolCallStatus string

const (
	// ToolCallRunning means the call has started or is streaming arguments.
	ToolCallRunning ToolCallStatus = "running"
	// ToolCallDone means the call finished and (maybe) produced a result.
	ToolCallDone ToolCallStatus = "done"
)

// ToolCallCard is the render state for one tool invocation.
type ToolCallCard struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   string         `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
	Status ToolCallStatus `json:"status"`
}

// TranscriptMessage is one rendered conversation message.
type TranscriptMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is the render state projected from a session's event stream.
// It is mutated only through Apply and owns no I/O, so it can be driven
// directly by tests and replayed from persisted events.
type Transcript struct {
	RunID     string              `json:"run_id,omitempty"`
	Status    RunStatus           `json:"status"`
	Messages  []TranscriptMessage `json:"messages"`
	ToolCalls []ToolCallCard      `json:"tool_calls"`
	Banner    string              `json:"banner,omitempty"`

	msgIndex  map[string]int
	toolIndex map[string]int
}

// NewTranscript returns an empty transcript in the idle state.
func NewTranscript() *Transcript {
	return &Transcript{
		Status:    RunIdle,
		Messages:  []TranscriptMessage{},
		ToolCalls: []ToolCallCard{},
		msgIndex:  make(map[string]int),
		toolIndex: make(map[string]int),
	}
}

// Apply folds one event into the transcript. Events it does not recognize,
// and deltas referencing unknown IDs, are ignored; nothing here is fatal.
func (t *Transcript) Apply(ev Event) {
	switch ev.Type {
	case EventRunStarted:
		t.RunID = ev.RunID
		t.Status = RunActive
	case EventRunFinished:
		t.Status = RunFinished
	case EventRunError:
		t.Status = RunErrored
		t.Banner = truncateBanner(ev.Message)
	case EventInterrupt:
		t.Status = RunInterrupted
	case EventTextMessageStart:
		if ev.MessageID == "" {
			return
		}
		if _, exists := t.msgIndex[ev.MessageID]; exists {
			return
		}
		role := ev.Role
		if role == "" {
			role = "assistant"
		}
		t.msgIndex[ev.MessageID] = len(t.Messages)
		t.Messages = append(t.Messages, TranscriptMessage{ID: ev.MessageID, Role: role})
	case EventTextMessageContent:
		if i, ok := t.msgIndex[ev.MessageID]; ok {
			t.Messages[i].Content += ev.Delta
		}
	case EventTextMessageEnd:
		// Terminal marker only; content is already assembled.
	case EventToolCallStart:
		if ev.ToolCallID == "" {
			return
		}
		if _, exists := t.toolIndex[ev.ToolCallID]; exists {
			return
		}
		t.toolIndex[ev.ToolCallID] = len(t.ToolCalls)
		t.ToolCalls = append(t.ToolCalls, ToolCallCard{
			ID:     ev.ToolCallID,
			Name:   ev.ToolCallName,
			Status: ToolCallRunning,
		})
	case EventToolCallArgs:
		if i, ok := t.toolIndex[ev.ToolCallID]; ok {
			t.ToolCalls[i].Args += ev.Delta
		}
	case EventToolCallEnd:
		if i, ok := t.toolIndex[ev.ToolCallID]; ok {
			t.ToolCalls[i].Status = ToolCallDone
		}
	case EventToolCallResult:
		if i, ok := t.toolIndex[ev.ToolCallID]; ok {
			t.ToolCalls[i].Result = ev.Content
			t.ToolCalls[i].Status = ToolCallDone
		}
	default:
		// RAW, META, and unknown event types carry nothing the chat view renders.
	}
}

// MessageContent returns the assembled content of a message by ID.
func (t *Transcript) MessageContent(messageID string) (string, bool) {
	i, ok := t.msgIndex[messageID]
	if !ok {
		return "", false
	}
	return t.Messages[i].Content, true
}

// DismissBanner clears the error banner.
func (t *Transcript) DismissBanner() {
	t.Banner = ""
}

// Clone returns a deep copy safe to serialize while the original keeps mutating.
func (t *Transcript) Clone() *Transcript {
	c := &Transcript{
		RunID:     t.RunID,
		Status:    t.Status,
		Banner:    t.Banner,
		Messages:  make([]TranscriptMessage, len(t.Messages)),
		ToolCalls: make([]ToolCallCard, len(t.ToolCalls)),
		msgIndex:  make(map[string]int, len(t.msgIndex)),
		toolIndex: make(map[string]int, len(t.toolIndex)),
	}
	copy(c.Messages, t.Messages)
	copy(c.ToolCalls, t.ToolCalls)
	for k, v := range t.msgIndex {
		c.msgIndex[k] = v
	}
	for k, v := range t.toolIndex {
		c.toolIndex[k] = v
	}
	return c
}

func truncateBanner(msg string) string {
	if msg == "" {
		return "agent reported an error"
	}
	// Cut on a rune boundary so multi-byte messages stay valid UTF-8.
	runes := []rune(msg)
	if len(runes) <= BannerMaxLen {
		return msg
	}
	return string(runes[:BannerMaxLen]) + "…"
}
