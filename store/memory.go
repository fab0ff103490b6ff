package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a thread-safe in-memory Store.
type Memory struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	sessions map[string]string // session id -> task id
	events   map[string][]EventRecord
	convs    map[string][]Conversation
	nextID   int64
	closed   bool
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:    make(map[string]*Task),
		sessions: make(map[string]string),
		events:   make(map[string][]EventRecord),
		convs:    make(map[string][]Conversation),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateTask creates a task.
func (m *Memory) CreateTask(_ context.Context, t NewTask) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := m.tasks[t.ID]; ok {
		return nil, ErrTaskExists
	}
	now := m.now()
	if t.Title == "" {
		t.Title = DefaultTitle(now)
	}
	task := &Task{ID: t.ID, Title: t.Title, CreatedAt: now, UpdatedAt: now}
	m.tasks[t.ID] = task
	cp := *task
	return &cp, nil
}

// GetTask returns a task by id.
func (m *Memory) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// FindTaskBySession returns the task bound to sessionID.
func (m *Memory) FindTaskBySession(ctx context.Context, sessionID string) (*Task, error) {
	m.mu.RLock()
	id, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || sessionID == "" {
		return nil, ErrNotFound
	}
	return m.GetTask(ctx, id)
}

// ListTasks returns tasks most recently updated first.
func (m *Memory) ListTasks(_ context.Context, offset, limit int) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	all := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		all = append(all, *t)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []Task{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// UpdateTaskTitle renames a task.
func (m *Memory) UpdateTaskTitle(_ context.Context, id, title string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.Title = title
	t.UpdatedAt = m.now()
	cp := *t
	return &cp, nil
}

// SetTaskSession binds sessionID to a task.
func (m *Memory) SetTaskSession(_ context.Context, taskID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.SessionID == sessionID {
		return nil
	}
	if t.SessionID != "" {
		return ErrSessionAlreadySet
	}
	if owner, taken := m.sessions[sessionID]; taken && owner != taskID {
		return ErrSessionTaken
	}
	t.SessionID = sessionID
	t.UpdatedAt = m.now()
	m.sessions[sessionID] = taskID
	return nil
}

// DeleteTask removes a task and everything attached to it.
func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.SessionID != "" {
		delete(m.sessions, t.SessionID)
	}
	delete(m.tasks, id)
	delete(m.events, id)
	delete(m.convs, id)
	return nil
}

// SaveEvent stores one event record.
func (m *Memory) SaveEvent(_ context.Context, taskID, kind string, payload json.RawMessage, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tasks[taskID]; !ok {
		return ErrNotFound
	}
	for _, r := range m.events[taskID] {
		if r.Sequence == seq {
			return ErrDuplicateSequence
		}
	}
	m.events[taskID] = append(m.events[taskID], EventRecord{
		ID:        m.id(),
		TaskID:    taskID,
		Kind:      kind,
		Payload:   append(json.RawMessage(nil), payload...),
		Sequence:  seq,
		CreatedAt: m.now(),
	})
	return nil
}

// MaxSequence returns the highest sequence of a task, -1 when it has none.
func (m *Memory) MaxSequence(_ context.Context, taskID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	maxSeq := int64(-1)
	for _, r := range m.events[taskID] {
		maxSeq = max(maxSeq, r.Sequence)
	}
	return maxSeq, nil
}

// ListEvents returns a task's records in sequence order.
func (m *Memory) ListEvents(_ context.Context, taskID string) ([]EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tasks[taskID]; !ok {
		return nil, ErrNotFound
	}
	out := append([]EventRecord(nil), m.events[taskID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// CreateUserMessage stores a user turn.
func (m *Memory) CreateUserMessage(_ context.Context, taskID, text string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return nil, ErrNotFound
	}
	c := Conversation{ID: m.id(), TaskID: taskID, Role: RoleUser, Content: text, CreatedAt: m.now()}
	m.convs[taskID] = append(m.convs[taskID], c)
	return &c, nil
}

// CreateAssistantMessage stores an assistant turn and accrues its usage.
func (m *Memory) CreateAssistantMessage(_ context.Context, taskID, text string, u AssistantUsage) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	c := Conversation{
		ID:           m.id(),
		TaskID:       taskID,
		Role:         RoleAssistant,
		Content:      text,
		CreatedAt:    now,
		CostUSD:      u.CostUSD,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		Usage:        u.Usage,
	}
	m.convs[taskID] = append(m.convs[taskID], c)
	accrue(t, u)
	t.UpdatedAt = now
	return &c, nil
}

// accrue adds non-negative usage figures to the task totals.
func accrue(t *Task, u AssistantUsage) {
	if u.CostUSD != nil && *u.CostUSD > 0 {
		t.TotalCostUSD += *u.CostUSD
	}
	if u.InputTokens != nil && *u.InputTokens > 0 {
		t.TotalInputTokens += *u.InputTokens
	}
	if u.OutputTokens != nil && *u.OutputTokens > 0 {
		t.TotalOutputTokens += *u.OutputTokens
	}
}

// ListConversations returns a task's turns oldest first.
func (m *Memory) ListConversations(_ context.Context, taskID string) ([]Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tasks[taskID]; !ok {
		return nil, ErrNotFound
	}
	return append([]Conversation(nil), m.convs[taskID]...), nil
}

// CountAssistantMessages counts a task's assistant turns.
func (m *Memory) CountAssistantMessages(_ context.Context, taskID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.convs[taskID] {
		if c.Role == RoleAssistant {
			n++
		}
	}
	return n, nil
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
