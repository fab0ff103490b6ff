// Package store defines the persistence collaborators of the module: tasks,
// their event records and their conversation turns. Memory is an in-process
// implementation; package sqlite provides a durable one.
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Task is a durable conversation identity.
type Task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// SessionID is the upstream session bound to the task, empty until bound.
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Cumulative usage; only ever increases.
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
}

// NewTask describes a task to create. An empty ID is generated.
type NewTask struct {
	ID    string
	Title string
}

// EventRecord is one persisted event of a task.
type EventRecord struct {
	ID        int64           `json:"id"`
	TaskID    string          `json:"task_id"`
	Kind      string          `json:"event_type"`
	Payload   json.RawMessage `json:"event_data"`
	Sequence  int64           `json:"sequence"`
	CreatedAt time.Time       `json:"created_at"`
}

// Role values of conversation records.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is one persisted turn of a task.
type Conversation struct {
	ID           int64           `json:"id"`
	TaskID       string          `json:"task_id"`
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	CreatedAt    time.Time       `json:"created_at"`
	CostUSD      *float64        `json:"cost_usd,omitempty"`
	InputTokens  *int64          `json:"input_tokens,omitempty"`
	OutputTokens *int64          `json:"output_tokens,omitempty"`
	Usage        json.RawMessage `json:"usage_data,omitempty"`
}

// AssistantUsage is the accounting attached to an assistant turn.
type AssistantUsage struct {
	CostUSD      *float64
	InputTokens  *int64
	OutputTokens *int64
	Usage        json.RawMessage
}

// TaskStore persists tasks.
type TaskStore interface {
	// CreateTask creates a task. It fails with ErrTaskExists when the ID is taken.
	CreateTask(ctx context.Context, t NewTask) (*Task, error)

	// GetTask returns ErrNotFound for an unknown id.
	GetTask(ctx context.Context, id string) (*Task, error)

	// FindTaskBySession returns the task bound to sessionID, or ErrNotFound.
	FindTaskBySession(ctx context.Context, sessionID string) (*Task, error)

	// ListTasks returns tasks most recently updated first.
	ListTasks(ctx context.Context, offset, limit int) ([]Task, error)

	// UpdateTaskTitle renames a task.
	UpdateTaskTitle(ctx context.Context, id, title string) (*Task, error)

	// SetTaskSession binds sessionID to an unbound task. It is a no-op when
	// the task already holds sessionID, fails with ErrSessionAlreadySet when
	// it holds another one and with ErrSessionTaken when another task owns
	// sessionID.
	SetTaskSession(ctx context.Context, taskID, sessionID string) error

	// DeleteTask removes a task with its events and conversations.
	DeleteTask(ctx context.Context, id string) error
}

// EventStore persists event records.
type EventStore interface {
	// SaveEvent stores one record. It fails with ErrDuplicateSequence when
	// the task already has a record at seq.
	SaveEvent(ctx context.Context, taskID, kind string, payload json.RawMessage, seq int64) error

	// MaxSequence returns the task's highest sequence, or -1 when it has none.
	MaxSequence(ctx context.Context, taskID string) (int64, error)

	// ListEvents returns the task's records in sequence order.
	ListEvents(ctx context.Context, taskID string) ([]EventRecord, error)
}

// ConversationStore persists conversation turns.
type ConversationStore interface {
	CreateUserMessage(ctx context.Context, taskID, text string) (*Conversation, error)

	// CreateAssistantMessage stores an assistant turn, adds its figures to
	// the task's cumulative usage and touches the task's UpdatedAt.
	CreateAssistantMessage(ctx context.Context, taskID, text string, u AssistantUsage) (*Conversation, error)

	// ListConversations returns the task's turns oldest first.
	ListConversations(ctx context.Context, taskID string) ([]Conversation, error)

	CountAssistantMessages(ctx context.Context, taskID string) (int, error)
}

// Store is the full persistence surface.
type Store interface {
	TaskStore
	EventStore
	ConversationStore
	Close() error
}

// DefaultTitle is the title of a task created without one.
func DefaultTitle(now time.Time) string {
	return "Conversation " + now.Format("2006-01-02 15:04")
}
