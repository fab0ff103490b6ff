// Package agui bridges liteagent events to the official AG-UI Go SDK.
//
// AG-UI (Agent-User Interface) is an open, lightweight, event-based protocol that
// standardizes how AI agents connect to user-facing applications. liteagent's own
// event vocabulary follows AG-UI closely; this package converts it to the SDK's
// event types so SDK-based frontends can consume a turn unchanged.
//
// # Usage
//
// Create a Mapper for each run and use it to convert liteagent events:
//
//	mapper := agui.NewMapper(input.ThreadID, input.RunID)
//	for ev := range events {
//	    if usage := mapper.Usage(ev); usage != nil {
//	        writeEvent(usage)
//	    }
//	    if out := mapper.MapEvent(ev); out != nil {
//	        writeEvent(out)
//	    }
//	}
//
// # Event Mapping
//
// Lifecycle, text message, tool call, step and state events map onto their SDK
// counterparts. Thinking events and run usage have no SDK constructor and are
// emitted as CUSTOM events named [CustomThinkingStart], [CustomThinkingContent],
// [CustomThinkingEnd] and [CustomRunUsage]. A StateDelta becomes JSON Patch
// replace operations, see [Patch].
//
// # Input
//
// [RunAgentInput.Prepare] extracts the latest user prompt. The thread id names
// the task the turn continues or creates.
//
// # Thread Safety
//
// The Mapper is NOT safe for concurrent use. Each goroutine should have its own
// Mapper instance. Message conversion functions are stateless and safe for
// concurrent use.
package agui
