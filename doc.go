// Package liteagent exposes a conversational agent over HTTP and streams the
// upstream runtime's messages back to clients as AG-UI events.
//
// The root package only holds the categorized error type shared by the
// runtimes, the retry layer and the run adapter. The pieces themselves live
// in subpackages:
//
//   - [github.com/spetersoncode/liteagent/event]: event model and wire encoding
//   - [github.com/spetersoncode/liteagent/upstream]: upstream message decoding and the Runtime interface
//   - [github.com/spetersoncode/liteagent/adapter]: converters, dispatcher and the run state machine
//   - [github.com/spetersoncode/liteagent/usage]: deduplicated usage and cost accounting
//   - [github.com/spetersoncode/liteagent/session]: task/session reconciliation
//   - [github.com/spetersoncode/liteagent/sequence]: per-task event sequencing
//   - [github.com/spetersoncode/liteagent/turn]: one request end to end
//
// # Basic Usage
//
//	svc := turn.NewService(st, rt)
//	_, err := svc.Respond(ctx, turn.Request{Message: "hello"}, func(ev event.Event) error {
//	    data, _ := event.Marshal(ev, event.SnakeCase)
//	    return event.WriteSSE(w, data)
//	})
package liteagent
