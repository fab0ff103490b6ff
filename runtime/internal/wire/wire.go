// Package wire builds the stream-json messages the direct-API runtimes emit
// and the pull stream that carries them. Every runtime speaks the Claude Code
// message taxonomy (system init, assistant, result) so the rest of the module
// handles all runtimes alike.
package wire

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spetersoncode/liteagent/event"
)

// System returns the init message announcing the session.
func System(sessionID, model string) json.RawMessage {
	return mustMarshal(map[string]any{
		"type":       "system",
		"subtype":    "init",
		"session_id": sessionID,
		"model":      model,
	})
}

// Block is one content block of an assistant message.
type Block map[string]any

// TextBlock returns a text content block.
func TextBlock(text string) Block {
	return Block{"type": "text", "text": text}
}

// ThinkingBlock returns a thinking content block.
func ThinkingBlock(thinking string) Block {
	return Block{"type": "thinking", "thinking": thinking}
}

// ToolUseBlock returns a tool-use content block; input is raw JSON.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	if len(input) == 0 || !json.Valid(input) {
		input = json.RawMessage(`{}`)
	}
	return Block{"type": "tool_use", "id": id, "name": name, "input": input}
}

// Assistant returns an assistant message.
func Assistant(id, model string, content []Block, usage event.Usage) json.RawMessage {
	if content == nil {
		content = []Block{}
	}
	return mustMarshal(map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"id":      id,
			"role":    "assistant",
			"model":   model,
			"content": content,
			"usage":   usage,
		},
	})
}

// Result describes the end-of-run summary.
type Result struct {
	SessionID    string
	DurationMS   int64
	NumTurns     int64
	TotalCostUSD float64
	Usage        event.Usage
	Text         string
	IsError      bool
}

// ResultMessage returns the result message.
func ResultMessage(r Result) json.RawMessage {
	subtype := "success"
	if r.IsError {
		subtype = "error_during_execution"
	}
	return mustMarshal(map[string]any{
		"type":           "result",
		"subtype":        subtype,
		"session_id":     r.SessionID,
		"duration_ms":    r.DurationMS,
		"num_turns":      r.NumTurns,
		"is_error":       r.IsError,
		"total_cost_usd": r.TotalCostUSD,
		"usage":          r.Usage,
		"result":         r.Text,
	})
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("wire: " + err.Error())
	}
	return data
}

// FillFunc produces the remaining messages of a run. It is called once, on
// the first Next after the initial messages are drained.
type FillFunc func() ([]json.RawMessage, error)

// Stream is an upstream.Stream over a few initial messages followed by what
// a FillFunc produces.
type Stream struct {
	queue   []json.RawMessage
	fill    FillFunc
	current json.RawMessage
	err     error
	closed  atomic.Bool
	onClose func() error
	once    sync.Once
}

// NewStream returns a stream yielding first, then the output of fill.
// onClose is called once by Close; it may be nil.
func NewStream(first []json.RawMessage, fill FillFunc, onClose func() error) *Stream {
	return &Stream{queue: first, fill: fill, onClose: onClose}
}

// Next implements upstream.Stream.
func (s *Stream) Next() bool {
	if s.closed.Load() {
		return false
	}
	if len(s.queue) == 0 && s.fill != nil {
		fill := s.fill
		s.fill = nil
		msgs, err := fill()
		if s.closed.Load() {
			return false
		}
		s.queue = msgs
		s.err = err
	}
	if len(s.queue) == 0 {
		return false
	}
	s.current, s.queue = s.queue[0], s.queue[1:]
	return true
}

// Current implements upstream.Stream.
func (s *Stream) Current() json.RawMessage { return s.current }

// Err implements upstream.Stream. A closed stream reports no error.
func (s *Stream) Err() error {
	if s.closed.Load() || len(s.queue) > 0 {
		return nil
	}
	return s.err
}

// Close implements upstream.Stream.
func (s *Stream) Close() error {
	s.closed.Store(true)
	var err error
	s.once.Do(func() {
		if s.onClose != nil {
			err = s.onClose()
		}
	})
	return err
}

// History keeps the conversation of recent sessions so a run can resume a
// session the runtime itself started. T is the SDK's message parameter type.
type History[T any] struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []T]
}

// NewHistory returns a history holding at most size sessions; the least
// recently used session is evicted first.
func NewHistory[T any](size int) *History[T] {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, []T](size)
	if err != nil {
		panic("wire: " + err.Error())
	}
	return &History[T]{cache: cache}
}

// Get returns a copy of a session's messages and whether it is known.
func (h *History[T]) Get(sessionID string) ([]T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs, ok := h.cache.Get(sessionID)
	if !ok {
		return nil, false
	}
	return append([]T(nil), msgs...), true
}

// Append adds messages to a session, creating it when unknown.
func (h *History[T]) Append(sessionID string, msgs ...T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, _ := h.cache.Get(sessionID)
	next := make([]T, 0, len(prev)+len(msgs))
	next = append(next, prev...)
	next = append(next, msgs...)
	h.cache.Add(sessionID, next)
}

// Len returns the number of sessions held.
func (h *History[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache.Len()
}
