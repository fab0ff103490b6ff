package agui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/liteagent/event"
)

// Names of the CUSTOM events used for liteagent events the AG-UI SDK has no
// constructor for.
const (
	CustomThinkingStart   = "ThinkingStart"
	CustomThinkingContent = "ThinkingContent"
	CustomThinkingEnd     = "ThinkingEnd"
	CustomRunUsage        = "RunUsage"
)

// Mapper converts liteagent events to AG-UI events.
// Each liteagent event maps to at most one AG-UI event.
//
// Create a new Mapper for each run using NewMapper. The Mapper is not
// safe for concurrent use - each goroutine should have its own Mapper.
type Mapper struct {
	threadID string
	runID    string
}

// NewMapper creates a new Mapper for a single run.
// The threadID and runID are used in lifecycle events (RUN_STARTED, RUN_FINISHED).
func NewMapper(threadID, runID string) *Mapper {
	if threadID == "" {
		threadID = events.GenerateThreadID()
	}
	if runID == "" {
		runID = events.GenerateRunID()
	}
	return &Mapper{
		threadID: threadID,
		runID:    runID,
	}
}

// ThreadID returns the thread ID for this mapper.
func (m *Mapper) ThreadID() string {
	return m.threadID
}

// RunID returns the run ID for this mapper.
func (m *Mapper) RunID() string {
	return m.runID
}

// SetThreadID moves the mapper onto another thread, for instance when the
// turn switched to the task owning the upstream session.
func (m *Mapper) SetThreadID(id string) {
	if id != "" {
		m.threadID = id
	}
}

// RunStarted returns a RUN_STARTED event.
func (m *Mapper) RunStarted() events.Event {
	return events.NewRunStartedEvent(m.threadID, m.runID)
}

// RunFinished returns a RUN_FINISHED event.
func (m *Mapper) RunFinished() events.Event {
	return events.NewRunFinishedEvent(m.threadID, m.runID)
}

// RunError returns a RUN_ERROR event. code is optional.
func (m *Mapper) RunError(msg, code string) events.Event {
	if msg == "" {
		msg = "unknown error"
	}
	opts := []events.RunErrorOption{events.WithRunID(m.runID)}
	if code != "" {
		opts = append(opts, events.WithErrorCode(code))
	}
	return events.NewRunErrorEvent(msg, opts...)
}

// Usage returns a CUSTOM event carrying the run totals of a RunFinished
// event, or nil when the run reported neither cost nor usage. AG-UI's
// RUN_FINISHED has no slot for them, so callers emit this just before it.
func (m *Mapper) Usage(e event.Event) events.Event {
	if e.Type != event.RunFinished || (e.TotalCostUSD == nil && e.Usage == nil) {
		return nil
	}
	value := map[string]any{"runId": m.runID}
	if e.TotalCostUSD != nil {
		value["totalCostUsd"] = *e.TotalCostUSD
	}
	if e.Usage != nil {
		value["usage"] = map[string]any{
			"inputTokens":              e.Usage.InputTokens,
			"outputTokens":             e.Usage.OutputTokens,
			"cacheCreationInputTokens": e.Usage.CacheCreationInputTokens,
			"cacheReadInputTokens":     e.Usage.CacheReadInputTokens,
		}
	}
	if e.DurationMS != nil {
		value["durationMs"] = *e.DurationMS
	}
	return events.NewCustomEvent(CustomRunUsage, events.WithValue(value))
}

// MapEvent converts a liteagent event to an AG-UI event.
// Returns nil for events that have no AG-UI equivalent.
func (m *Mapper) MapEvent(e event.Event) events.Event {
	switch e.Type {
	// Run lifecycle
	case event.RunStarted:
		if e.RunID != "" {
			m.runID = e.RunID
		}
		return m.RunStarted()
	case event.RunFinished:
		return m.RunFinished()
	case event.RunError:
		return m.RunError(e.Error, e.ErrorType)

	// Step lifecycle
	case event.StepStarted:
		return events.NewStepStartedEvent(stepName(e))
	case event.StepFinished:
		return events.NewStepFinishedEvent(stepName(e))

	// Message lifecycle
	case event.TextMessageStart:
		role := string(e.Role)
		if role == "" {
			role = RoleAssistant
		}
		return events.NewTextMessageStartEvent(e.MessageID, events.WithRole(role))
	case event.TextMessageContent:
		return events.NewTextMessageContentEvent(e.MessageID, e.Delta)
	case event.TextMessageEnd:
		return events.NewTextMessageEndEvent(e.MessageID)

	// Tool call lifecycle
	case event.ToolCallStart:
		if e.ParentMessageID != "" {
			return events.NewToolCallStartEvent(e.ToolCallID, e.ToolCallName,
				events.WithParentMessageID(e.ParentMessageID))
		}
		return events.NewToolCallStartEvent(e.ToolCallID, e.ToolCallName)
	case event.ToolCallArgs:
		return events.NewToolCallArgsEvent(e.ToolCallID, e.Delta)
	case event.ToolCallEnd:
		return events.NewToolCallEndEvent(e.ToolCallID)
	case event.ToolCallResult:
		messageID := e.MessageID
		if messageID == "" {
			messageID = events.GenerateMessageID()
		}
		return events.NewToolCallResultEvent(messageID, e.ToolCallID, resultContent(e.Content))

	// Thinking has no SDK constructor
	case event.ThinkingStart:
		return thinking(CustomThinkingStart, e, false)
	case event.ThinkingContent:
		return thinking(CustomThinkingContent, e, true)
	case event.ThinkingEnd:
		return thinking(CustomThinkingEnd, e, false)

	// State
	case event.StateSnapshot:
		return events.NewStateSnapshotEvent(e.State)
	case event.StateDelta:
		return events.NewStateDeltaEvent(Patch(e.Patch))

	case event.Custom:
		return events.NewCustomEvent(e.Name, events.WithValue(e.Data))

	default:
		return nil
	}
}

func stepName(e event.Event) string {
	if e.StepName != "" {
		return e.StepName
	}
	return e.StepID
}

func thinking(name string, e event.Event, withDelta bool) events.Event {
	value := map[string]any{"thinkingId": e.ThinkingID}
	if withDelta {
		value["delta"] = e.Delta
	}
	return events.NewCustomEvent(name, events.WithValue(value))
}

// resultContent flattens a tool result to the string AG-UI expects.
func resultContent(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case json.RawMessage:
		return string(c)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(data)
	}
}

// Patch converts a shallow state delta to JSON Patch replace operations,
// ordered by key so the output is deterministic.
func Patch(delta map[string]any) []events.JSONPatchOperation {
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ops := make([]events.JSONPatchOperation, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, events.JSONPatchOperation{
			Op:    "replace",
			Path:  "/" + pointerEscaper.Replace(k),
			Value: delta[k],
		})
	}
	return ops
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")
