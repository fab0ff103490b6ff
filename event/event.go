// Package event defines the AG-UI event vocabulary streamed to clients and
// persisted per task. Every event carries a kind tag and a timestamp; the
// remaining fields are populated according to the kind.
package event

import (
	"context"
	"time"
)

// Type identifies the kind of event. The value is the wire discriminant.
type Type string

// Run lifecycle events
const (
	// RunStarted is emitted exactly once, before any other event of a run.
	RunStarted Type = "RunStarted"

	// RunFinished is emitted once when the upstream sequence ends normally.
	RunFinished Type = "RunFinished"

	// RunError is emitted once when consuming the upstream sequence fails.
	RunError Type = "RunError"
)

// Step lifecycle events
const (
	StepStarted  Type = "StepStarted"
	StepFinished Type = "StepFinished"
)

// Text message lifecycle events
const (
	// TextMessageStart opens a message; Role is set.
	TextMessageStart Type = "TextMessageStart"

	// TextMessageContent carries one Delta of the message text.
	TextMessageContent Type = "TextMessageContent"

	// TextMessageEnd closes a message.
	TextMessageEnd Type = "TextMessageEnd"
)

// Tool call lifecycle events
const (
	// ToolCallStart opens a tool invocation (contains the tool name).
	ToolCallStart Type = "ToolCallStart"

	// ToolCallArgs carries one Delta of the JSON-encoded arguments.
	ToolCallArgs Type = "ToolCallArgs"

	// ToolCallEnd closes the argument transmission.
	ToolCallEnd Type = "ToolCallEnd"

	// ToolCallResult carries the outcome, correlated by ToolCallID.
	ToolCallResult Type = "ToolCallResult"
)

// Thinking lifecycle events
const (
	ThinkingStart   Type = "ThinkingStart"
	ThinkingContent Type = "ThinkingContent"
	ThinkingEnd     Type = "ThinkingEnd"
)

// State and escape-hatch events
const (
	// StateSnapshot carries the full externally visible state.
	StateSnapshot Type = "StateSnapshot"

	// StateDelta carries a partial state update in Patch.
	StateDelta Type = "StateDelta"

	// Custom is an event whose wire type is its Name.
	Custom Type = "Custom"
)

// Names of the custom events produced by this module.
const (
	NameSystemMessage  = "SystemMessage"
	NameResultMessage  = "ResultMessage"
	NameUnknownBlock   = "UnknownBlock"
	NameUnknownMessage = "UnknownMessage"
	NameSessionInfo    = "SessionInfo"
)

// Role is the author of a text message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Usage is the token usage reported on RunFinished.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// Add returns the counter-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens + o.InputTokens,
		OutputTokens:             u.OutputTokens + o.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens + o.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens + o.CacheReadInputTokens,
	}
}

// Event is one protocol event. Which fields are meaningful depends on Type.
type Event struct {
	// Type identifies the kind of event.
	Type Type

	// Name is the wire type of a Custom event.
	Name string

	// Timestamp is when the event was emitted.
	Timestamp time.Time

	// RunID identifies the run for lifecycle events.
	RunID string

	// SessionID is the upstream session, when known at RunStarted.
	SessionID string

	// MessageID correlates TextMessage Start/Content/End and names a ToolCallResult.
	MessageID string

	// Role is the author for TextMessageStart.
	Role Role

	// Delta is one slice of text, thinking or tool arguments.
	Delta string

	// ToolCallID correlates the tool call events.
	ToolCallID string

	// ToolCallName is the tool name on ToolCallStart.
	ToolCallName string

	// ParentMessageID links a tool call to the message that made it, optional.
	ParentMessageID string

	// Content is the ToolCallResult payload, a string or structured value.
	Content any

	// IsError reports a failed tool call on ToolCallResult.
	IsError bool

	// Metadata is optional ToolCallResult metadata.
	Metadata map[string]any

	// ThinkingID correlates the thinking events.
	ThinkingID string

	// StepID and StepName identify a step.
	StepID   string
	StepName string

	// State is the StateSnapshot payload.
	State map[string]any

	// Patch is the StateDelta payload.
	Patch map[string]any

	// Data is the Custom payload.
	Data map[string]any

	// Error and ErrorType describe a RunError.
	Error     string
	ErrorType string

	// DurationMS is the run or step wall time, optional.
	DurationMS *int64

	// TotalCostUSD and Usage are the authoritative run totals on RunFinished,
	// nil when the run never reported them.
	TotalCostUSD *float64
	Usage        *Usage

	// Raw is the upstream payload the event was derived from, for debugging.
	Raw map[string]any
}

// WireType returns the discriminant written on the wire.
func (e Event) WireType() string {
	if e.Type == Custom {
		return e.Name
	}
	return string(e.Type)
}

// IsTerminal reports whether e ends a run.
func (e Event) IsTerminal() bool {
	return e.Type == RunFinished || e.Type == RunError
}

// NewCustom returns a Custom event with the given name and payload.
func NewCustom(name string, data map[string]any) Event {
	return Event{Type: Custom, Name: name, Data: data}
}

// Stamp sets the timestamp of e to now unless it is already set.
func Stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}

// Emit stamps e and sends it to ch, blocking until the receiver takes it or
// ctx is done. It reports whether the event was delivered.
func Emit(ctx context.Context, ch chan<- Event, e Event) bool {
	select {
	case ch <- Stamp(e):
		return true
	case <-ctx.Done():
		return false
	}
}

// NewChannel creates a buffered event channel with standard capacity.
func NewChannel() chan Event {
	return make(chan Event, 100)
}
