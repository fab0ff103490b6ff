package agui

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

// RunAgentInput represents the AG-UI protocol request for running an agent.
// This mirrors the AG-UI protocol specification and is transport-agnostic.
type RunAgentInput struct {
	ThreadID       string           `json:"thread_id"`
	RunID          string           `json:"run_id"`
	Messages       []events.Message `json:"messages"`
	Tools          []any            `json:"tools,omitempty"`           // Frontend-provided tools, ignored
	Context        []any            `json:"context,omitempty"`         // Context items, ignored
	State          any              `json:"state,omitempty"`           // State
	ForwardedProps any              `json:"forwarded_props,omitempty"` // Forwarded props
}

// PreparedInput contains validated input ready for a turn.
type PreparedInput struct {
	ThreadID string
	RunID    string

	// Prompt is the text of the latest user message. The upstream session
	// holds the earlier history, so only the latest prompt is forwarded.
	Prompt string

	// SessionID is the "session_id" key of the frontend state, if any.
	SessionID string

	State any
}

// ErrNoMessages is returned when the input contains no messages.
var ErrNoMessages = errors.New("no messages provided")

// ErrNoUserMessage is returned when no message carries user text.
var ErrNoUserMessage = errors.New("no user message provided")

// Prepare validates the input and extracts the prompt.
// Returns ErrNoMessages if Messages is empty and ErrNoUserMessage if no
// user message has content.
func (r *RunAgentInput) Prepare() (*PreparedInput, error) {
	if len(r.Messages) == 0 {
		return nil, ErrNoMessages
	}

	prompt := LastUserText(r.Messages)
	if prompt == "" {
		return nil, ErrNoUserMessage
	}

	result := &PreparedInput{
		ThreadID: r.ThreadID,
		RunID:    r.RunID,
		Prompt:   prompt,
		State:    r.State,
	}

	hints, err := DecodeState[sessionHint](result)
	if err == nil {
		result.SessionID = hints.SessionID
	}
	return result, nil
}

type sessionHint struct {
	SessionID string `json:"session_id"`
}

// LastUserText returns the content of the last user message with
// non-blank text, or "".
func LastUserText(msgs []events.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Role != RoleUser || msg.Content == nil {
			continue
		}
		if strings.TrimSpace(*msg.Content) != "" {
			return *msg.Content
		}
	}
	return ""
}

// DecodeState decodes the raw state into a typed struct.
// Returns the zero value of T if State is nil.
func DecodeState[T any](input *PreparedInput) (T, error) {
	var result T
	if input.State == nil {
		return result, nil
	}

	// Re-marshal and unmarshal to get proper typing
	data, err := json.Marshal(input.State)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return result, err
	}

	return result, nil
}
