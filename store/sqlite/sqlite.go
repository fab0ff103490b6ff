// Package sqlite is the durable store.Store backed by a SQLite file.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/spetersoncode/liteagent/internal/sqlitepool"
	"github.com/spetersoncode/liteagent/store"
)

// timeLayout keeps fixed-width fractions so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Config configures Open.
type Config struct {
	Path     string
	PoolSize int
	Logger   *slog.Logger
}

// Store implements store.Store.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	closed atomic.Bool
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at cfg.Path and applies the schema.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.Path,
		PoolSize:  cfg.PoolSize,
		Logger:    logger,
		OnConnect: applySchema,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	s := &Store{
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	// Apply the schema eagerly so a broken database fails at startup.
	conn, err := s.take(context.Background())
	if err != nil {
		pool.Close()
		return nil, err
	}
	pool.Put(conn)
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pool.Close()
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	return conn, nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUnique(err error) bool {
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		return true
	}
	return false
}

const taskColumns = `id, title, session_id, created_at, updated_at,
	total_cost_usd, total_input_tokens, total_output_tokens`

func scanTask(stmt *sqlite.Stmt) store.Task {
	return store.Task{
		ID:                stmt.ColumnText(0),
		Title:             stmt.ColumnText(1),
		SessionID:         stmt.ColumnText(2),
		CreatedAt:         parseTime(stmt.ColumnText(3)),
		UpdatedAt:         parseTime(stmt.ColumnText(4)),
		TotalCostUSD:      stmt.ColumnFloat(5),
		TotalInputTokens:  stmt.ColumnInt64(6),
		TotalOutputTokens: stmt.ColumnInt64(7),
	}
}

func getTask(conn *sqlite.Conn, where string, arg string) (*store.Task, error) {
	var task *store.Task
	err := sqlitex.Execute(conn, "SELECT "+taskColumns+" FROM tasks WHERE "+where, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			t := scanTask(stmt)
			task = &t
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: select task: %w", err)
	}
	if task == nil {
		return nil, store.ErrNotFound
	}
	return task, nil
}

// CreateTask creates a task.
func (s *Store) CreateTask(ctx context.Context, t store.NewTask) (*store.Task, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.now()
	if t.Title == "" {
		t.Title = store.DefaultTitle(now)
	}
	stamp := now.Format(timeLayout)
	err = sqlitex.Execute(conn,
		`INSERT INTO tasks (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{t.ID, t.Title, stamp, stamp}})
	if err != nil {
		if isUnique(err) {
			return nil, store.ErrTaskExists
		}
		return nil, fmt.Errorf("sqlite store: insert task: %w", err)
	}
	return getTask(conn, "id = ?", t.ID)
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return getTask(conn, "id = ?", id)
}

// FindTaskBySession returns the task bound to sessionID.
func (s *Store) FindTaskBySession(ctx context.Context, sessionID string) (*store.Task, error) {
	if sessionID == "" {
		return nil, store.ErrNotFound
	}
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return getTask(conn, "session_id = ?", sessionID)
}

// ListTasks returns tasks most recently updated first.
func (s *Store) ListTasks(ctx context.Context, offset, limit int) ([]store.Task, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}
	tasks := []store.Task{}
	err = sqlitex.Execute(conn,
		"SELECT "+taskColumns+" FROM tasks ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		&sqlitex.ExecOptions{
			Args: []any{limit, offset},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tasks = append(tasks, scanTask(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskTitle renames a task.
func (s *Store) UpdateTaskTitle(ctx context.Context, id, title string) (*store.Task, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE tasks SET title = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{title, s.stamp(), id}})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: update title: %w", err)
	}
	if conn.Changes() == 0 {
		return nil, store.ErrNotFound
	}
	return getTask(conn, "id = ?", id)
}

// SetTaskSession binds sessionID to a task.
func (s *Store) SetTaskSession(ctx context.Context, taskID, sessionID string) (err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTx(&err)

	task, err := getTask(conn, "id = ?", taskID)
	if err != nil {
		return err
	}
	switch task.SessionID {
	case sessionID:
		return nil
	case "":
	default:
		return store.ErrSessionAlreadySet
	}

	err = sqlitex.Execute(conn, `UPDATE tasks SET session_id = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{sessionID, s.stamp(), taskID}})
	if err != nil {
		if isUnique(err) {
			return store.ErrSessionTaken
		}
		return fmt.Errorf("sqlite store: bind session: %w", err)
	}
	return nil
}

// DeleteTask removes a task; events and conversations cascade.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM tasks WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("sqlite store: delete task: %w", err)
	}
	if conn.Changes() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveEvent stores one event record.
func (s *Store) SaveEvent(ctx context.Context, taskID, kind string, payload json.RawMessage, seq int64) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO events (task_id, event_type, event_data, sequence, created_at) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{taskID, kind, string(payload), seq, s.stamp()}})
	switch {
	case err == nil:
		return nil
	case isUnique(err):
		return store.ErrDuplicateSequence
	case sqlite.ErrCode(err) == sqlite.ResultConstraintForeignKey:
		return store.ErrNotFound
	}
	return fmt.Errorf("sqlite store: insert event: %w", err)
}

// MaxSequence returns the highest sequence of a task, -1 when it has none.
func (s *Store) MaxSequence(ctx context.Context, taskID string) (int64, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	maxSeq := int64(-1)
	err = sqlitex.Execute(conn, `SELECT COALESCE(MAX(sequence), -1) FROM events WHERE task_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{taskID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				maxSeq = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: max sequence: %w", err)
	}
	return maxSeq, nil
}

// ListEvents returns a task's records in sequence order.
func (s *Store) ListEvents(ctx context.Context, taskID string) ([]store.EventRecord, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if _, err := getTask(conn, "id = ?", taskID); err != nil {
		return nil, err
	}
	records := []store.EventRecord{}
	err = sqlitex.Execute(conn,
		`SELECT id, task_id, event_type, event_data, sequence, created_at
		 FROM events WHERE task_id = ? ORDER BY sequence`,
		&sqlitex.ExecOptions{
			Args: []any{taskID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, store.EventRecord{
					ID:        stmt.ColumnInt64(0),
					TaskID:    stmt.ColumnText(1),
					Kind:      stmt.ColumnText(2),
					Payload:   json.RawMessage(stmt.ColumnText(3)),
					Sequence:  stmt.ColumnInt64(4),
					CreatedAt: parseTime(stmt.ColumnText(5)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list events: %w", err)
	}
	return records, nil
}

// CreateUserMessage stores a user turn.
func (s *Store) CreateUserMessage(ctx context.Context, taskID, text string) (*store.Conversation, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	now := s.now()
	err = sqlitex.Execute(conn,
		`INSERT INTO conversations (task_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{taskID, store.RoleUser, text, now.Format(timeLayout)}})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintForeignKey {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite store: insert conversation: %w", err)
	}
	return &store.Conversation{
		ID:        conn.LastInsertRowID(),
		TaskID:    taskID,
		Role:      store.RoleUser,
		Content:   text,
		CreatedAt: now,
	}, nil
}

// CreateAssistantMessage stores an assistant turn and accrues its usage on
// the task in the same transaction.
func (s *Store) CreateAssistantMessage(ctx context.Context, taskID, text string, u store.AssistantUsage) (_ *store.Conversation, err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTx(&err)

	now := s.now()
	stamp := now.Format(timeLayout)
	var usageData any
	if len(u.Usage) > 0 {
		usageData = string(u.Usage)
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO conversations
		 (task_id, role, content, created_at, cost_usd, input_tokens, output_tokens, usage_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			taskID, store.RoleAssistant, text, stamp,
			nullable(u.CostUSD), nullable(u.InputTokens), nullable(u.OutputTokens), usageData,
		}})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintForeignKey {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite store: insert conversation: %w", err)
	}
	id := conn.LastInsertRowID()

	err = sqlitex.Execute(conn,
		`UPDATE tasks SET
			total_cost_usd = total_cost_usd + ?,
			total_input_tokens = total_input_tokens + ?,
			total_output_tokens = total_output_tokens + ?,
			updated_at = ?
		 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			positive(u.CostUSD), positive(u.InputTokens), positive(u.OutputTokens), stamp, taskID,
		}})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: accrue usage: %w", err)
	}

	return &store.Conversation{
		ID:           id,
		TaskID:       taskID,
		Role:         store.RoleAssistant,
		Content:      text,
		CreatedAt:    now,
		CostUSD:      u.CostUSD,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		Usage:        u.Usage,
	}, nil
}

// ListConversations returns a task's turns oldest first.
func (s *Store) ListConversations(ctx context.Context, taskID string) ([]store.Conversation, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if _, err := getTask(conn, "id = ?", taskID); err != nil {
		return nil, err
	}
	convs := []store.Conversation{}
	err = sqlitex.Execute(conn,
		`SELECT id, task_id, role, content, created_at, cost_usd, input_tokens, output_tokens, usage_data
		 FROM conversations WHERE task_id = ? ORDER BY id`,
		&sqlitex.ExecOptions{
			Args: []any{taskID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c := store.Conversation{
					ID:        stmt.ColumnInt64(0),
					TaskID:    stmt.ColumnText(1),
					Role:      stmt.ColumnText(2),
					Content:   stmt.ColumnText(3),
					CreatedAt: parseTime(stmt.ColumnText(4)),
				}
				if stmt.ColumnType(5) != sqlite.TypeNull {
					v := stmt.ColumnFloat(5)
					c.CostUSD = &v
				}
				if stmt.ColumnType(6) != sqlite.TypeNull {
					v := stmt.ColumnInt64(6)
					c.InputTokens = &v
				}
				if stmt.ColumnType(7) != sqlite.TypeNull {
					v := stmt.ColumnInt64(7)
					c.OutputTokens = &v
				}
				if stmt.ColumnType(8) != sqlite.TypeNull {
					c.Usage = json.RawMessage(stmt.ColumnText(8))
				}
				convs = append(convs, c)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list conversations: %w", err)
	}
	return convs, nil
}

// CountAssistantMessages counts a task's assistant turns.
func (s *Store) CountAssistantMessages(ctx context.Context, taskID string) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var n int
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM conversations WHERE task_id = ? AND role = ?`,
		&sqlitex.ExecOptions{
			Args: []any{taskID, store.RoleAssistant},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: count conversations: %w", err)
	}
	return n, nil
}

func nullable[T int64 | float64](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func positive[T int64 | float64](v *T) T {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}
