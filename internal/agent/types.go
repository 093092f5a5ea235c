// Package agent implements the streaming transport to the Expert Finder agent
// and the event model for its run protocol.
package agent

import (
	"encoding/json"
	"errors"
)

// EventType tags a streamed agent event.
type EventType string

// Event types emitted by the agent during a run. Unknown types are carried
// through opaquely and ignored by the projection.
const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
	EventToolCallResult     EventType = "TOOL_CALL_RESULT"
	EventInterrupt          EventType = "INTERRUPT"
	EventRaw                EventType = "RAW"
	EventMeta               EventType = "META"
)

// ErrUnrecognizedEvent marks stream payloads that do not carry an event type.
var ErrUnrecognizedEvent = errors.New("unrecognized agent event")

// Event is one tagged-variant event from the agent's run stream.
// Only the fields relevant to the tagged type are populated.
type Event struct {
	Type         EventType       `json:"type"`
	ThreadID     string          `json:"threadId,omitempty"`
	RunID        string          `json:"runId,omitempty"`
	MessageID    string          `json:"messageId,omitempty"`
	Role         string          `json:"role,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolCallName string          `json:"toolCallName,omitempty"`
	Content      string          `json:"content,omitempty"`
	Message      string          `json:"message,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	Payload      json.RawMessage `json:"event,omitempty"`
}

// ParseEvent decodes a single stream payload. Payloads without a type are
// rejected so callers can skip them defensively.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.Type == "" {
		return Event{}, ErrUnrecognizedEvent
	}
	return ev, nil
}

// Message is one conversation message sent to the agent with a run request.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunInput is the request body for starting an agent run.
type RunInput struct {
	ThreadID string    `json:"threadId"`
	RunID    string    `json:"runId"`
	Messages []Message `json:"messages"`
}
