package adapter

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/upstream"
)

// Converter maps decoded upstream messages and content blocks to protocol
// events. It performs no I/O; the zero value uses DefaultChunkSize and
// random UUIDs.
type Converter struct {
	// ChunkSize is the number of runes per delta.
	ChunkSize int

	// NewID generates message, thinking and tool call ids.
	NewID func() string
}

func (c *Converter) id() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c *Converter) chunk(s string) []string {
	return Chunk(s, c.ChunkSize)
}

// Text returns the Start/Content*/End sequence of one text message.
func (c *Converter) Text(role event.Role, text string) []event.Event {
	id := c.id()
	evs := []event.Event{{Type: event.TextMessageStart, MessageID: id, Role: role}}
	for _, d := range c.chunk(text) {
		evs = append(evs, event.Event{Type: event.TextMessageContent, MessageID: id, Delta: d})
	}
	return append(evs, event.Event{Type: event.TextMessageEnd, MessageID: id})
}

// Thinking returns the Start/Content*/End sequence of one thinking block.
func (c *Converter) Thinking(text string) []event.Event {
	id := c.id()
	evs := []event.Event{{Type: event.ThinkingStart, ThinkingID: id}}
	for _, d := range c.chunk(text) {
		evs = append(evs, event.Event{Type: event.ThinkingContent, ThinkingID: id, Delta: d})
	}
	return append(evs, event.Event{Type: event.ThinkingEnd, ThinkingID: id})
}

// ToolCall returns the Start/Args*/End sequence of one tool invocation.
// args is the JSON-encoded input.
func (c *Converter) ToolCall(id, name, args string) []event.Event {
	if id == "" {
		id = c.id()
	}
	if name == "" {
		name = "unknown"
	}
	evs := []event.Event{{Type: event.ToolCallStart, ToolCallID: id, ToolCallName: name}}
	for _, d := range c.chunk(args) {
		evs = append(evs, event.Event{Type: event.ToolCallArgs, ToolCallID: id, Delta: d})
	}
	return append(evs, event.Event{Type: event.ToolCallEnd, ToolCallID: id})
}

// ToolResult returns the single result event of a tool invocation.
func (c *Converter) ToolResult(toolCallID string, content any, isError bool) []event.Event {
	if toolCallID == "" {
		toolCallID = c.id()
	}
	return []event.Event{{
		Type:       event.ToolCallResult,
		MessageID:  c.id(),
		ToolCallID: toolCallID,
		Content:    content,
		IsError:    isError,
	}}
}

// Block converts one content block. role is the author of the enclosing
// message and applies to text blocks.
func (c *Converter) Block(b upstream.Block, role event.Role) []event.Event {
	switch blk := b.(type) {
	case upstream.ThinkingBlock:
		return c.Thinking(blk.Thinking)
	case upstream.TextBlock:
		return c.Text(role, blk.Text)
	case upstream.ToolUseBlock:
		return c.ToolCall(blk.ID, blk.Name, upstream.ToolInput(blk))
	case upstream.ToolResultBlock:
		return c.ToolResult(blk.ToolUseID, resultContent(blk.Content), blk.IsError)
	case upstream.MessageBlock:
		return c.content(roleOf(blk.Role, role), blk.Content)
	case upstream.UnknownBlock:
		return []event.Event{event.NewCustom(event.NameUnknownBlock, map[string]any{
			"block_type": nilIfEmpty(blk.Type),
			"raw":        rawValue(blk.Raw),
		})}
	}
	return nil
}

func (c *Converter) content(role event.Role, content upstream.Content) []event.Event {
	if content.IsText {
		return c.Text(role, content.Text)
	}
	var evs []event.Event
	for _, b := range content.Blocks {
		evs = append(evs, c.Block(b, role)...)
	}
	return evs
}

// System converts a system message.
func (c *Converter) System(m upstream.Message) []event.Event {
	msg, ok := m.(upstream.SystemMessage)
	if !ok {
		return nil
	}
	data := map[string]any{
		"subtype": nilIfEmpty(msg.Subtype),
		"data":    msg.Data,
	}
	if msg.SessionID != "" {
		data["session_id"] = msg.SessionID
	}
	return []event.Event{event.NewCustom(event.NameSystemMessage, data)}
}

// User converts a user message. Runtimes report tool results this way.
func (c *Converter) User(m upstream.Message) []event.Event {
	msg, ok := m.(upstream.UserMessage)
	if !ok {
		return nil
	}
	return c.content(event.RoleUser, msg.Content)
}

// Assistant converts an assistant message: tool_calls entries first, then
// the content.
func (c *Converter) Assistant(m upstream.Message) []event.Event {
	msg, ok := m.(upstream.AssistantMessage)
	if !ok {
		return nil
	}
	var evs []event.Event
	for _, call := range msg.ToolCalls {
		evs = append(evs, c.ToolCall(call.ID, call.Name, call.Arguments)...)
	}
	return append(evs, c.content(event.RoleAssistant, msg.Content)...)
}

// Result converts the end-of-run summary.
func (c *Converter) Result(m upstream.Message) []event.Event {
	msg, ok := m.(upstream.ResultMessage)
	if !ok {
		return nil
	}
	data := map[string]any{
		"subtype":         nilIfEmpty(msg.Subtype),
		"duration_ms":     msg.DurationMS,
		"duration_api_ms": msg.DurationAPIMS,
		"is_error":        msg.IsError,
		"num_turns":       msg.NumTurns,
		"session_id":      nilIfEmpty(msg.SessionID),
		"total_cost_usd":  msg.TotalCostUSD,
		"usage":           rawValue(msg.Usage),
		"result":          msg.Result,
	}
	return []event.Event{event.NewCustom(event.NameResultMessage, data)}
}

// Tool converts a standalone tool result message.
func (c *Converter) Tool(m upstream.Message) []event.Event {
	msg, ok := m.(upstream.ToolMessage)
	if !ok {
		return nil
	}
	return c.ToolResult(msg.ToolCallID, msg.Content, msg.IsError)
}

func roleOf(s string, fallback event.Role) event.Role {
	switch r := event.Role(s); r {
	case event.RoleUser, event.RoleAssistant, event.RoleSystem:
		return r
	}
	return fallback
}

// resultContent flattens tool result content. A string stays a string, a
// list of text blocks becomes their joined text, anything else is passed
// through as a generic value.
func resultContent(raw json.RawMessage) any {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		texts := make([]string, 0, len(items))
		for _, item := range items {
			tb, ok := upstream.DecodeBlock(item).(upstream.TextBlock)
			if !ok {
				return rawValue(raw)
			}
			texts = append(texts, tb.Text)
		}
		return strings.Join(texts, "\n")
	}
	return rawValue(raw)
}

// rawValue decodes raw for embedding in an event payload; undecodable input
// is kept as its string form.
func rawValue(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
