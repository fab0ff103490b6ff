package upstream

import "encoding/json"

// Block is one decoded content block.
type Block interface {
	blockType() string
}

// ThinkingBlock carries model reasoning.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// TextBlock carries text.
type TextBlock struct {
	Text string
}

// ToolUseBlock is a tool invocation.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock is the outcome of a tool invocation.
type ToolResultBlock struct {
	ToolUseID string
	Content   json.RawMessage
	IsError   bool
}

// MessageBlock is a whole message nested inside a content list.
type MessageBlock struct {
	Role    string
	Content Content
}

// UnknownBlock is any block no known shape matched.
type UnknownBlock struct {
	Type string
	Raw  json.RawMessage
}

func (ThinkingBlock) blockType() string   { return "thinking" }
func (TextBlock) blockType() string       { return "text" }
func (ToolUseBlock) blockType() string    { return "tool_use" }
func (ToolResultBlock) blockType() string { return "tool_result" }
func (MessageBlock) blockType() string    { return "message" }
func (b UnknownBlock) blockType() string  { return b.Type }

// DecodeBlock classifies one raw content block. A known type tag wins;
// otherwise the block is classified by the fields it carries, in the order
// thinking, text, tool use, tool result, message.
func DecodeBlock(raw json.RawMessage) Block {
	obj, ok := object(raw)
	if !ok {
		return UnknownBlock{Raw: raw}
	}
	tag := obj.str("type")

	switch tag {
	case "thinking", "ThinkingBlock":
		return thinkingBlock(obj)
	case "text", "TextBlock":
		return TextBlock{Text: obj.str("text")}
	case "tool_use", "ToolUseBlock":
		return toolUseBlock(obj)
	case "tool_result", "ToolResultBlock":
		return toolResultBlock(obj)
	}

	switch {
	case obj.has("thinking"):
		return thinkingBlock(obj)
	case obj.has("text"):
		return TextBlock{Text: obj.str("text")}
	case obj.has("id") && obj.has("name") && obj.has("input"):
		return toolUseBlock(obj)
	case obj.has("tool_use_id"):
		return toolResultBlock(obj)
	case obj.has("role") && obj.has("content"):
		return MessageBlock{Role: obj.str("role"), Content: decodeContent(obj.get("content"))}
	}
	return UnknownBlock{Type: tag, Raw: raw}
}

func thinkingBlock(obj fields) ThinkingBlock {
	return ThinkingBlock{Thinking: obj.str("thinking"), Signature: obj.str("signature")}
}

func toolUseBlock(obj fields) ToolUseBlock {
	return ToolUseBlock{ID: obj.str("id"), Name: obj.str("name"), Input: obj.get("input")}
}

func toolResultBlock(obj fields) ToolResultBlock {
	return ToolResultBlock{
		ToolUseID: obj.str("tool_use_id"),
		Content:   obj.get("content"),
		IsError:   obj.boolean("is_error"),
	}
}

func decodeContent(raw json.RawMessage) Content {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Content{Text: s, IsText: true}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Content{}
	}
	blocks := make([]Block, 0, len(items))
	for _, item := range items {
		blocks = append(blocks, DecodeBlock(item))
	}
	return Content{Blocks: blocks}
}
