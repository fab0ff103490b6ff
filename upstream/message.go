// Package upstream decodes the heterogeneous message stream produced by an
// agent runtime into a closed set of variants, and defines the Runtime
// boundary the rest of the module consumes.
//
// Decoding never fails: a payload that matches no known shape becomes an
// UnknownMessage, and a content block that matches no known shape becomes an
// UnknownBlock. Every field access defaults safely when the field is absent
// or has an unexpected type.
package upstream

import "encoding/json"

// Kind is the resolved discriminant of an upstream message.
type Kind string

const (
	KindSystem    Kind = "system"
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindResult    Kind = "result"
	KindTool      Kind = "tool"
	KindUnknown   Kind = "unknown"
)

// Message is one decoded upstream message.
type Message interface {
	// Kind returns the resolved discriminant.
	Kind() Kind

	// Raw returns the payload the message was decoded from.
	Raw() json.RawMessage
}

type base struct {
	raw json.RawMessage
}

func (b base) Raw() json.RawMessage { return b.raw }

// SystemMessage is a runtime notice such as the session init message.
type SystemMessage struct {
	base
	Subtype   string
	SessionID string
	// Data is the message's data object, or the whole message when it has none.
	Data map[string]any
}

func (SystemMessage) Kind() Kind { return KindSystem }

// UserMessage is a user-authored message. Runtimes also report tool results
// this way.
type UserMessage struct {
	base
	Content Content
}

func (UserMessage) Kind() Kind { return KindUser }

// AssistantMessage is one model response, possibly one of several partial
// reports sharing the same ID.
type AssistantMessage struct {
	base
	ID        string
	Model     string
	Content   Content
	ToolCalls []ToolCall
	// Usage is the raw per-call usage figure, nil when absent.
	Usage json.RawMessage
	// CostUSD is an explicit per-message cost figure, nil when absent.
	CostUSD *float64
}

func (AssistantMessage) Kind() Kind { return KindAssistant }

// ResultMessage is the end-of-run summary.
type ResultMessage struct {
	base
	Subtype       string
	SessionID     string
	DurationMS    *int64
	DurationAPIMS *int64
	IsError       bool
	NumTurns      *int64
	Result        *string
	TotalCostUSD  *float64
	// Usage is the raw summary usage figure, nil when absent.
	Usage json.RawMessage
}

func (ResultMessage) Kind() Kind { return KindResult }

// ToolMessage carries a tool result as a standalone message.
type ToolMessage struct {
	base
	ToolCallID string
	Content    any
	IsError    bool
}

func (ToolMessage) Kind() Kind { return KindTool }

// UnknownMessage is any payload no known shape matched.
type UnknownMessage struct {
	base
	// Discriminant is the raw type tag, empty when the payload had none.
	Discriminant string
}

func (UnknownMessage) Kind() Kind { return KindUnknown }

// ToolCall is an entry of an assistant message's tool_calls list.
type ToolCall struct {
	ID   string
	Name string
	// Arguments is the JSON encoding of the call input.
	Arguments string
}

// Content is a message body: either a plain string or a list of blocks.
type Content struct {
	Text   string
	Blocks []Block
	// IsText reports that the body was a plain string.
	IsText bool
}
