package session

import (
	"encoding/json"

	"github.com/spetersoncode/liteagent/event"
)

// SessionID extracts the upstream session id carried by an init
// SystemMessage or by a ResultMessage custom event. System messages are
// searched at the top level of the event data, then in a nested data object
// one and two levels deep; result messages only at the top level.
func SessionID(ev event.Event) string {
	if ev.Type != event.Custom {
		return ""
	}
	switch ev.Name {
	case event.NameSystemMessage:
		m := asMap(ev.Data)
		if m == nil || m["subtype"] != "init" {
			return ""
		}
		return find(m, 3)
	case event.NameResultMessage:
		return find(ev.Data, 1)
	}
	return ""
}

func find(v any, depth int) string {
	if depth == 0 {
		return ""
	}
	m := asMap(v)
	if m == nil {
		return ""
	}
	if s, ok := m["session_id"].(string); ok && s != "" {
		return s
	}
	return find(m["data"], depth-1)
}

func asMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case json.RawMessage:
		var m map[string]any
		if json.Unmarshal(t, &m) == nil {
			return m
		}
	}
	return nil
}
