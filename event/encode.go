package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Naming selects the key convention of the wire encoding.
type Naming int

const (
	// SnakeCase writes keys such as message_id. Used by the persisted
	// record and the v1 response endpoint.
	SnakeCase Naming = iota

	// CamelCase writes keys such as messageId. Used by the legacy chat
	// endpoint.
	CamelCase
)

// ParseNaming maps "camel"/"camelCase" to CamelCase and anything else to SnakeCase.
func ParseNaming(s string) Naming {
	switch strings.ToLower(s) {
	case "camel", "camelcase":
		return CamelCase
	default:
		return SnakeCase
	}
}

func (n Naming) key(k string) string {
	if n != CamelCase || !strings.Contains(k, "_") {
		return k
	}
	parts := strings.Split(k, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// field is one ordered key of an encoded object. A value of type []field is
// encoded as a nested object under the same naming; anything else is opaque
// and encoded with encoding/json as is.
type field struct {
	key   string
	value any
}

func (u *Usage) fields() any {
	if u == nil {
		return nil
	}
	return []field{
		{"input_tokens", u.InputTokens},
		{"output_tokens", u.OutputTokens},
		{"cache_creation_input_tokens", u.CacheCreationInputTokens},
		{"cache_read_input_tokens", u.CacheReadInputTokens},
	}
}

func (e Event) fields() []field {
	fs := []field{
		{"type", e.WireType()},
		{"timestamp", e.Timestamp.Format(time.RFC3339Nano)},
	}
	add := func(k string, v any) { fs = append(fs, field{k, v}) }
	addString := func(k, v string) {
		if v != "" {
			add(k, v)
		}
	}

	switch e.Type {
	case RunStarted:
		add("run_id", e.RunID)
		addString("session_id", e.SessionID)
	case RunFinished:
		add("run_id", e.RunID)
		if e.DurationMS != nil {
			add("duration_ms", *e.DurationMS)
		}
		if e.TotalCostUSD != nil {
			add("total_cost_usd", *e.TotalCostUSD)
		} else {
			add("total_cost_usd", nil)
		}
		add("usage", e.Usage.fields())
	case RunError:
		add("run_id", e.RunID)
		add("error", e.Error)
		addString("error_type", e.ErrorType)
	case StepStarted:
		add("step_id", e.StepID)
		addString("step_name", e.StepName)
	case StepFinished:
		add("step_id", e.StepID)
		if e.DurationMS != nil {
			add("duration_ms", *e.DurationMS)
		}
	case TextMessageStart:
		add("message_id", e.MessageID)
		add("role", string(e.Role))
	case TextMessageContent:
		add("message_id", e.MessageID)
		add("delta", e.Delta)
	case TextMessageEnd:
		add("message_id", e.MessageID)
	case ToolCallStart:
		add("tool_call_id", e.ToolCallID)
		add("tool_call_name", e.ToolCallName)
		addString("parent_message_id", e.ParentMessageID)
	case ToolCallArgs:
		add("tool_call_id", e.ToolCallID)
		add("delta", e.Delta)
	case ToolCallEnd:
		add("tool_call_id", e.ToolCallID)
	case ToolCallResult:
		add("message_id", e.MessageID)
		add("tool_call_id", e.ToolCallID)
		add("content", e.Content)
		add("role", string(RoleTool))
		add("is_error", e.IsError)
		if e.Metadata != nil {
			add("metadata", e.Metadata)
		}
	case ThinkingStart, ThinkingEnd:
		add("thinking_id", e.ThinkingID)
	case ThinkingContent:
		add("thinking_id", e.ThinkingID)
		add("delta", e.Delta)
	case StateSnapshot:
		add("state", nonNilMap(e.State))
	case StateDelta:
		add("delta", nonNilMap(e.Patch))
	case Custom:
		add("data", nonNilMap(e.Data))
	}

	if e.Raw != nil {
		add("raw_event", e.Raw)
	}
	return fs
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Marshal encodes e as one JSON object using the given key convention.
// Keys are written in a fixed order, type first. Opaque payloads (data,
// state, content, metadata, raw_event) keep their own keys unchanged.
func Marshal(e Event, n Naming) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeObject(&buf, e.fields(), n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON encodes e in SnakeCase.
func (e Event) MarshalJSON() ([]byte, error) {
	return Marshal(e, SnakeCase)
}

func writeObject(buf *bytes.Buffer, fs []field, n Naming) error {
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, n.key(f.key)); err != nil {
			return err
		}
		buf.WriteByte(':')
		if nested, ok := f.value.([]field); ok {
			if err := writeObject(buf, nested, n); err != nil {
				return err
			}
			continue
		}
		if err := writeValue(buf, f.value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// Payload returns the JSON-safe form of e stored in an event record.
// System and result messages store only their data object; every other
// event stores its full SnakeCase encoding.
func Payload(e Event) (json.RawMessage, error) {
	if e.Type == Custom && (e.Name == NameSystemMessage || e.Name == NameResultMessage) {
		var buf bytes.Buffer
		if err := writeValue(&buf, nonNilMap(e.Data)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return Marshal(e, SnakeCase)
}
