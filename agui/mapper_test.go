package agui

import (
	"encoding/json"
	"testing"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/liteagent/event"
)

func decode(t *testing.T, ev events.Event) map[string]any {
	t.Helper()
	data, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out
}

func TestNewMapper(t *testing.T) {
	t.Run("uses provided IDs", func(t *testing.T) {
		m := NewMapper("thread-123", "run-456")
		if m.ThreadID() != "thread-123" {
			t.Errorf("expected thread ID 'thread-123', got %q", m.ThreadID())
		}
		if m.RunID() != "run-456" {
			t.Errorf("expected run ID 'run-456', got %q", m.RunID())
		}
	})

	t.Run("generates IDs when empty", func(t *testing.T) {
		m := NewMapper("", "")
		if m.ThreadID() == "" {
			t.Error("expected generated thread ID")
		}
		if m.RunID() == "" {
			t.Error("expected generated run ID")
		}
	})
}

func TestMapper_Lifecycle(t *testing.T) {
	m := NewMapper("thread-1", "run-1")

	started := m.MapEvent(event.Event{Type: event.RunStarted, RunID: "run-from-adapter"})
	if started.Type() != events.EventTypeRunStarted {
		t.Fatalf("expected RUN_STARTED, got %s", started.Type())
	}
	if m.RunID() != "run-from-adapter" {
		t.Errorf("mapper should adopt the run id, got %q", m.RunID())
	}
	body := decode(t, started)
	if body["threadId"] != "thread-1" || body["runId"] != "run-from-adapter" {
		t.Errorf("unexpected RUN_STARTED body: %v", body)
	}

	m.SetThreadID("thread-2")
	m.SetThreadID("")
	finished := m.MapEvent(event.Event{Type: event.RunFinished})
	if finished.Type() != events.EventTypeRunFinished {
		t.Fatalf("expected RUN_FINISHED, got %s", finished.Type())
	}
	if body := decode(t, finished); body["threadId"] != "thread-2" {
		t.Errorf("expected switched thread id, got %v", body["threadId"])
	}

	failed := m.MapEvent(event.Event{Type: event.RunError, Error: "boom", ErrorType: "transient"})
	if failed.Type() != events.EventTypeRunError {
		t.Fatalf("expected RUN_ERROR, got %s", failed.Type())
	}
	if body := decode(t, failed); body["message"] != "boom" || body["code"] != "transient" {
		t.Errorf("unexpected RUN_ERROR body: %v", body)
	}
}

func TestMapper_RunErrorDefaultsMessage(t *testing.T) {
	m := NewMapper("thread-1", "run-1")
	if body := decode(t, m.RunError("", "")); body["message"] != "unknown error" {
		t.Errorf("unexpected message: %v", body["message"])
	}
}

func TestMapper_MapEvent_Types(t *testing.T) {
	m := NewMapper("thread-1", "run-1")

	tests := []struct {
		name string
		in   event.Event
		want events.EventType
	}{
		{"step started", event.Event{Type: event.StepStarted, StepID: "s1"}, events.EventTypeStepStarted},
		{"step finished", event.Event{Type: event.StepFinished, StepName: "plan"}, events.EventTypeStepFinished},
		{"text start", event.Event{Type: event.TextMessageStart, MessageID: "m1", Role: event.RoleUser}, events.EventTypeTextMessageStart},
		{"text content", event.Event{Type: event.TextMessageContent, MessageID: "m1", Delta: "hi"}, events.EventTypeTextMessageContent},
		{"text end", event.Event{Type: event.TextMessageEnd, MessageID: "m1"}, events.EventTypeTextMessageEnd},
		{"tool start", event.Event{Type: event.ToolCallStart, ToolCallID: "t1", ToolCallName: "Read"}, events.EventTypeToolCallStart},
		{"tool args", event.Event{Type: event.ToolCallArgs, ToolCallID: "t1", Delta: "{}"}, events.EventTypeToolCallArgs},
		{"tool end", event.Event{Type: event.ToolCallEnd, ToolCallID: "t1"}, events.EventTypeToolCallEnd},
		{"tool result", event.Event{Type: event.ToolCallResult, ToolCallID: "t1", Content: "ok"}, events.EventTypeToolCallResult},
		{"thinking start", event.Event{Type: event.ThinkingStart, ThinkingID: "k1"}, events.EventTypeCustom},
		{"thinking content", event.Event{Type: event.ThinkingContent, ThinkingID: "k1", Delta: "hm"}, events.EventTypeCustom},
		{"thinking end", event.Event{Type: event.ThinkingEnd, ThinkingID: "k1"}, events.EventTypeCustom},
		{"snapshot", event.Event{Type: event.StateSnapshot, State: map[string]any{"a": 1}}, events.EventTypeStateSnapshot},
		{"delta", event.Event{Type: event.StateDelta, Patch: map[string]any{"a": 2}}, events.EventTypeStateDelta},
		{"custom", event.NewCustom(event.NameSystemMessage, map[string]any{"subtype": "init"}), events.EventTypeCustom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.MapEvent(tt.in)
			if got == nil {
				t.Fatal("expected event, got nil")
			}
			if got.Type() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.Type())
			}
		})
	}
}

func TestMapper_MapEvent_UnknownReturnsNil(t *testing.T) {
	m := NewMapper("thread-1", "run-1")
	if got := m.MapEvent(event.Event{Type: "Bogus"}); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestMapper_TextMessageDefaultsToAssistant(t *testing.T) {
	m := NewMapper("thread-1", "run-1")
	body := decode(t, m.MapEvent(event.Event{Type: event.TextMessageStart, MessageID: "m1"}))
	if body["role"] != RoleAssistant {
		t.Errorf("expected assistant role, got %v", body["role"])
	}
	if body["messageId"] != "m1" {
		t.Errorf("expected messageId m1, got %v", body["messageId"])
	}
}

func TestMapper_ToolCallParent(t *testing.T) {
	m := NewMapper("thread-1", "run-1")
	body := decode(t, m.MapEvent(event.Event{
		Type:            event.ToolCallStart,
		ToolCallID:      "t1",
		ToolCallName:    "Bash",
		ParentMessageID: "m1",
	}))
	if body["parentMessageId"] != "m1" {
		t.Errorf("expected parentMessageId m1, got %v", body["parentMessageId"])
	}
	if body["toolCallName"] != "Bash" {
		t.Errorf("expected toolCallName Bash, got %v", body["toolCallName"])
	}
}

func TestMapper_ToolCallResultContent(t *testing.T) {
	m := NewMapper("thread-1", "run-1")

	t.Run("string content kept", func(t *testing.T) {
		body := decode(t, m.MapEvent(event.Event{Type: event.ToolCallResult, MessageID: "r1", ToolCallID: "t1", Content: "done"}))
		if body["content"] != "done" || body["messageId"] != "r1" {
			t.Errorf("unexpected body: %v", body)
		}
	})

	t.Run("structured content encoded", func(t *testing.T) {
		body := decode(t, m.MapEvent(event.Event{
			Type:       event.ToolCallResult,
			ToolCallID: "t1",
			Content:    []any{map[string]any{"type": "text", "text": "x"}},
		}))
		if body["content"] != `[{"text":"x","type":"text"}]` {
			t.Errorf("unexpected content: %v", body["content"])
		}
		if body["messageId"] == "" {
			t.Error("expected generated message id")
		}
	})
}

func TestMapper_CustomCarriesNameAndValue(t *testing.T) {
	m := NewMapper("thread-1", "run-1")
	body := decode(t, m.MapEvent(event.NewCustom(event.NameSessionInfo, map[string]any{"session_id": "s1"})))
	if body["name"] != event.NameSessionInfo {
		t.Errorf("expected name SessionInfo, got %v", body["name"])
	}
	value, _ := body["value"].(map[string]any)
	if value["session_id"] != "s1" {
		t.Errorf("unexpected value: %v", body["value"])
	}

	thinking := decode(t, m.MapEvent(event.Event{Type: event.ThinkingContent, ThinkingID: "k1", Delta: "ab"}))
	if thinking["name"] != CustomThinkingContent {
		t.Errorf("expected thinking name, got %v", thinking["name"])
	}
	tv, _ := thinking["value"].(map[string]any)
	if tv["thinkingId"] != "k1" || tv["delta"] != "ab" {
		t.Errorf("unexpected thinking value: %v", thinking["value"])
	}
}

func TestMapper_Usage(t *testing.T) {
	m := NewMapper("thread-1", "run-1")

	if got := m.Usage(event.Event{Type: event.RunFinished}); got != nil {
		t.Errorf("expected nil without totals, got %v", got)
	}
	if got := m.Usage(event.Event{Type: event.TextMessageEnd}); got != nil {
		t.Errorf("expected nil for other events, got %v", got)
	}

	cost := 0.25
	got := m.Usage(event.Event{
		Type:         event.RunFinished,
		TotalCostUSD: &cost,
		Usage:        &event.Usage{InputTokens: 10, OutputTokens: 4},
	})
	if got == nil {
		t.Fatal("expected usage event")
	}
	body := decode(t, got)
	if body["name"] != CustomRunUsage {
		t.Errorf("expected RunUsage, got %v", body["name"])
	}
	value, _ := body["value"].(map[string]any)
	if value["totalCostUsd"] != 0.25 {
		t.Errorf("unexpected cost: %v", value["totalCostUsd"])
	}
	usage, _ := value["usage"].(map[string]any)
	if usage["inputTokens"] != float64(10) || usage["outputTokens"] != float64(4) {
		t.Errorf("unexpected usage: %v", usage)
	}
}

func TestPatch(t *testing.T) {
	ops := Patch(map[string]any{"b": 2, "a/x": 1, "c~": 3})
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	wantPaths := []string{"/a~1x", "/b", "/c~0"}
	for i, op := range ops {
		if op.Op != "replace" {
			t.Errorf("op %d: expected replace, got %q", i, op.Op)
		}
		if op.Path != wantPaths[i] {
			t.Errorf("op %d: expected path %q, got %q", i, wantPaths[i], op.Path)
		}
	}
	if ops[1].Value != 2 {
		t.Errorf("expected value 2, got %v", ops[1].Value)
	}
}
