package upstream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// discriminants maps accepted type tags to kinds. Tags are compared after
// lowercasing.
var discriminants = map[string]Kind{
	"system":            KindSystem,
	"systemmessage":     KindSystem,
	"user":              KindUser,
	"usermessage":       KindUser,
	"assistant":         KindAssistant,
	"assistantmessage":  KindAssistant,
	"result":            KindResult,
	"resultmessage":     KindResult,
	"tool":              KindTool,
	"toolmessage":       KindTool,
	"toolresultmessage": KindTool,
	"functionmessage":   KindTool,
}

// Discriminant returns the raw type tag of a payload: the "type" field,
// else "class", else "kind". It is empty when none is present.
func Discriminant(raw json.RawMessage) string {
	obj, ok := object(raw)
	if !ok {
		return ""
	}
	return obj.firstStr("type", "class", "kind")
}

// Decode parses one upstream payload into its variant. It never fails.
func Decode(raw json.RawMessage) Message {
	raw = bytes.TrimSpace(raw)
	obj, ok := object(raw)
	if !ok {
		return UnknownMessage{base: base{raw: raw}}
	}

	tag := obj.firstStr("type", "class", "kind")
	kind, known := discriminants[strings.ToLower(tag)]
	if !known {
		if tag != "" {
			return UnknownMessage{base: base{raw: raw}, Discriminant: tag}
		}
		kind = inferKind(obj)
	}

	b := base{raw: raw}
	switch kind {
	case KindSystem:
		return decodeSystem(b, obj)
	case KindUser:
		return UserMessage{base: b, Content: decodeContent(body(obj).get("content"))}
	case KindAssistant:
		return decodeAssistant(b, obj)
	case KindResult:
		return decodeResult(b, obj)
	case KindTool:
		return decodeTool(b, obj)
	}
	return UnknownMessage{base: b, Discriminant: tag}
}

// inferKind classifies an untagged payload by shape.
func inferKind(obj fields) Kind {
	role := body(obj).str("role")
	switch role {
	case "system":
		return KindSystem
	case "user":
		return KindUser
	case "assistant":
		return KindAssistant
	case "tool":
		return KindTool
	}
	switch {
	case obj.has("total_cost_usd") || obj.has("num_turns") || obj.has("result"):
		return KindResult
	case obj.has("tool_call_id"):
		return KindTool
	case obj.has("subtype"):
		return KindSystem
	}
	return KindUnknown
}

// body returns the nested "message" envelope when present. The Claude Code
// stream-json format wraps the API message that way.
func body(obj fields) fields {
	if inner, ok := obj.object("message"); ok {
		return inner
	}
	return obj
}

func decodeSystem(b base, obj fields) SystemMessage {
	data, ok := obj.object("data")
	if !ok {
		data = obj
	}
	sessionID := obj.str("session_id")
	if sessionID == "" {
		sessionID = data.str("session_id")
	}
	return SystemMessage{
		base:      b,
		Subtype:   obj.str("subtype"),
		SessionID: sessionID,
		Data:      data.toMap(),
	}
}

func decodeAssistant(b base, obj fields) AssistantMessage {
	msg := body(obj)
	usage := msg.get("usage")
	if usage == nil {
		usage = obj.get("usage")
	}
	cost := msg.float("cost_usd")
	if cost == nil {
		cost = obj.float("cost_usd")
	}
	id := msg.str("id")
	if id == "" {
		id = obj.firstStr("message_id", "id")
	}
	return AssistantMessage{
		base:      b,
		ID:        id,
		Model:     msg.str("model"),
		Content:   decodeContent(msg.get("content")),
		ToolCalls: decodeToolCalls(msg.get("tool_calls")),
		Usage:     usage,
		CostUSD:   cost,
	}
}

func decodeToolCalls(raw json.RawMessage) []ToolCall {
	var items []json.RawMessage
	if raw == nil || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	calls := make([]ToolCall, 0, len(items))
	for _, item := range items {
		obj, ok := object(item)
		if !ok {
			continue
		}
		call := ToolCall{ID: obj.str("id"), Name: obj.str("name")}
		args := obj.get("input")
		if fn, ok := obj.object("function"); ok {
			if call.Name == "" {
				call.Name = fn.str("name")
			}
			if args == nil {
				args = fn.get("arguments")
			}
		}
		call.Arguments = encodeArguments(args)
		if call.Name == "" {
			call.Name = "unknown"
		}
		calls = append(calls, call)
	}
	return calls
}

// encodeArguments returns compact JSON for a tool input. An OpenAI-style
// arguments string is already JSON text and is returned as is.
func encodeArguments(raw json.RawMessage) string {
	if raw == nil {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ToolInput returns the compact JSON encoding of a tool-use block's input.
func ToolInput(b ToolUseBlock) string {
	if b.Input == nil {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b.Input); err != nil {
		return string(b.Input)
	}
	return buf.String()
}

func decodeResult(b base, obj fields) ResultMessage {
	var result *string
	if obj.has("result") {
		s := obj.str("result")
		result = &s
	}
	cost := obj.float("total_cost_usd")
	if cost == nil {
		cost = obj.float("cost_usd")
	}
	return ResultMessage{
		base:          b,
		Subtype:       obj.str("subtype"),
		SessionID:     obj.str("session_id"),
		DurationMS:    obj.int("duration_ms"),
		DurationAPIMS: obj.int("duration_api_ms"),
		IsError:       obj.boolean("is_error"),
		NumTurns:      obj.int("num_turns"),
		Result:        result,
		TotalCostUSD:  cost,
		Usage:         obj.get("usage"),
	}
}

func decodeTool(b base, obj fields) ToolMessage {
	msg := body(obj)
	content := msg.any("content")
	if content == nil {
		content = msg.any("result")
	}
	if content == nil {
		content = ""
	}
	return ToolMessage{
		base:       b,
		ToolCallID: msg.firstStr("tool_call_id", "tool_use_id", "id"),
		Content:    content,
		IsError:    msg.boolean("is_error"),
	}
}
