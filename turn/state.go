package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/session"
	"github.com/spetersoncode/liteagent/store"
)

// errClientGone ends a turn whose client stopped accepting events.
var errClientGone = errors.New("turn: client gone")

// record is a persisted event of this run, kept for re-persisting on a
// task switch.
type record struct {
	kind    string
	payload json.RawMessage
}

// runState is the per-turn state machine around one adapter run.
type runState struct {
	svc    *Service
	req    Request
	runID  string
	emit   EmitFunc
	logger *slog.Logger

	task       *store.Task
	createdIDs []string
	deleted    []string
	switched   bool

	userMessageID string
	userSaved     bool
	records       []record
	synced        map[string]bool

	sessionID   string
	sessionSent bool
	failed      bool

	assistantID string
	text        strings.Builder
	cost        *float64
	usage       *event.Usage
}

func createsTask(t event.Type) bool {
	switch t {
	case event.RunStarted, event.TextMessageStart, event.ThinkingStart, event.ToolCallStart:
		return true
	}
	return false
}

// handle persists, observes and delivers one adapter event.
func (rs *runState) handle(ctx context.Context, ev event.Event) error {
	if rs.task == nil && createsTask(ev.Type) {
		if err := rs.createTask(ctx); err != nil {
			return err
		}
	}
	if ev.Type == event.RunError {
		rs.failed = true
	}
	if err := rs.persist(ctx, ev); err != nil {
		return err
	}
	if err := rs.observeSession(ctx, ev); err != nil {
		return err
	}
	rs.collect(ev)

	if rs.sessionID != "" && !rs.sessionSent && ev.Type != event.RunStarted {
		rs.sessionSent = true
		var taskID any
		if rs.task != nil {
			taskID = rs.task.ID
		}
		info := event.NewCustom(event.NameSessionInfo, map[string]any{
			"session_id": rs.sessionID,
			"task_id":    taskID,
		})
		if err := rs.deliver(event.Stamp(info)); err != nil {
			return err
		}
	}
	return rs.deliver(ev)
}

func (rs *runState) deliver(ev event.Event) error {
	rs.svc.metrics.Event(ev.WireType())
	if err := rs.emit(ev); err != nil {
		return fmt.Errorf("%w: %v", errClientGone, err)
	}
	return nil
}

// createTask creates the run's task from its first response event.
func (rs *runState) createTask(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)
	task, err := rs.svc.store.CreateTask(wctx, store.NewTask{
		ID:    rs.req.NewTaskID,
		Title: lazyTitle(rs.req.Message),
	})
	switch {
	case errors.Is(err, store.ErrTaskExists):
		// Another turn created the requested id first; follow it.
		task, err = rs.svc.store.GetTask(wctx, rs.req.NewTaskID)
		if err != nil {
			return fmt.Errorf("turn: load task %s: %w", rs.req.NewTaskID, err)
		}
	case err != nil:
		return fmt.Errorf("turn: create task: %w", err)
	default:
		rs.createdIDs = append(rs.createdIDs, task.ID)
	}
	rs.task = task
	rs.logger = rs.logger.With("task_id", task.ID)
	rs.logger.Info("task created", "title", task.Title)

	if !rs.userSaved {
		return rs.persistUser(ctx)
	}
	return nil
}

// persistUser records the prompt as a conversation row and as a
// Start/Content/End message, ahead of the response events.
func (rs *runState) persistUser(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)
	if _, err := rs.svc.store.CreateUserMessage(wctx, rs.task.ID, rs.req.Message); err != nil {
		return fmt.Errorf("turn: save user message: %w", err)
	}
	for _, ev := range []event.Event{
		{Type: event.TextMessageStart, MessageID: rs.userMessageID, Role: event.RoleUser},
		{Type: event.TextMessageContent, MessageID: rs.userMessageID, Delta: rs.req.Message},
		{Type: event.TextMessageEnd, MessageID: rs.userMessageID},
	} {
		if err := rs.persist(ctx, event.Stamp(ev)); err != nil {
			return err
		}
	}
	rs.userSaved = true
	return nil
}

// persist stores ev under the current task with the next sequence number.
// Session announcements are never stored.
func (rs *runState) persist(ctx context.Context, ev event.Event) error {
	if rs.task == nil || (ev.Type == event.Custom && ev.Name == event.NameSessionInfo) {
		return nil
	}
	payload, err := event.Payload(ev)
	if err != nil {
		return &store.SerializationError{TaskID: rs.task.ID, Err: err}
	}
	rec := record{kind: ev.WireType(), payload: payload}
	if err := rs.save(context.WithoutCancel(ctx), rs.task.ID, rec); err != nil {
		return err
	}
	rs.records = append(rs.records, rec)
	return nil
}

func (rs *runState) save(ctx context.Context, taskID string, rec record) error {
	if err := rs.sync(ctx, taskID); err != nil {
		return err
	}
	seq, err := rs.svc.seq.Append(ctx, taskID, func(seq int64) error {
		return rs.svc.store.SaveEvent(ctx, taskID, rec.kind, rec.payload, seq)
	})
	if err != nil {
		return fmt.Errorf("turn: save %s #%d: %w", rec.kind, seq, err)
	}
	return nil
}

// sync re-reads the task's sequence cursor from the store the first time
// this run touches the task.
func (rs *runState) sync(ctx context.Context, taskID string) error {
	if rs.synced[taskID] {
		return nil
	}
	if err := rs.svc.seq.Sync(ctx, taskID); err != nil {
		return fmt.Errorf("turn: sequence: %w", err)
	}
	if rs.synced == nil {
		rs.synced = make(map[string]bool)
	}
	rs.synced[taskID] = true
	return nil
}

// observeSession binds the first session id the run reveals.
func (rs *runState) observeSession(ctx context.Context, ev event.Event) error {
	if rs.sessionID != "" {
		return nil
	}
	sid := session.SessionID(ev)
	if sid == "" {
		return nil
	}
	rs.sessionID = sid
	rs.logger = rs.logger.With("session_id", sid)
	rs.logger.Info("session discovered")
	if rs.task == nil {
		return nil
	}

	wctx := context.WithoutCancel(ctx)
	b, err := rs.svc.reconciler.Bind(wctx, rs.task, sid)
	if err != nil {
		return fmt.Errorf("turn: bind session: %w", err)
	}
	rs.svc.metrics.Bind(b.Outcome.String())

	switch b.Outcome {
	case session.Bound, session.Confirmed:
		rs.task = b.Task
	case session.Collision:
		return rs.switchTo(wctx, b.Owner)
	case session.Mismatch:
		// Logged by the reconciler; the original binding stays.
	}
	return nil
}

// switchTo continues the run under owner. The run's records so far are
// replayed into owner in order so its history stays complete.
func (rs *runState) switchTo(ctx context.Context, owner *store.Task) error {
	from := rs.task
	rs.logger.Info("session collision, switching task", "from_task_id", from.ID, "to_task_id", owner.ID)
	rs.svc.metrics.TaskSwitch()

	if err := rs.sync(ctx, owner.ID); err != nil {
		return err
	}
	if rs.userSaved {
		if _, err := rs.svc.store.CreateUserMessage(ctx, owner.ID, rs.req.Message); err != nil {
			return fmt.Errorf("turn: save user message: %w", err)
		}
	}
	for _, rec := range rs.records {
		if err := rs.save(ctx, owner.ID, rec); err != nil {
			rs.logger.Error("replaying records into owner failed", "to_task_id", owner.ID, "error", err)
			return err
		}
	}

	rs.task = owner
	rs.switched = true
	rs.logger = rs.svc.logger.With("run_id", rs.runID, "task_id", owner.ID, "session_id", rs.sessionID)
	return nil
}

// collect tracks the reply text and the run's usage figures.
func (rs *runState) collect(ev event.Event) {
	switch ev.Type {
	case event.TextMessageStart:
		if ev.Role == event.RoleAssistant {
			rs.assistantID = ev.MessageID
			rs.text.Reset()
		}
	case event.TextMessageContent:
		if rs.assistantID != "" && ev.MessageID == rs.assistantID {
			rs.text.WriteString(ev.Delta)
		}
	case event.RunFinished:
		rs.cost = ev.TotalCostUSD
		rs.usage = ev.Usage
	}
}

// finish records the assistant reply and, unless the request named a task,
// deletes lazily created tasks that ended without one. ctx must outlive the
// request.
func (rs *runState) finish(ctx context.Context, ok bool) error {
	var err error
	text := rs.text.String()
	if ok && rs.task != nil && strings.TrimSpace(text) != "" {
		u := store.AssistantUsage{CostUSD: rs.cost}
		if rs.usage != nil {
			in, out := rs.usage.InputTokens, rs.usage.OutputTokens
			u.InputTokens, u.OutputTokens = &in, &out
			u.Usage, _ = json.Marshal(rs.usage)
		}
		if _, err = rs.svc.store.CreateAssistantMessage(ctx, rs.task.ID, text, u); err != nil {
			err = fmt.Errorf("turn: save assistant message: %w", err)
			rs.logger.Error("saving assistant message failed", "error", err)
		} else {
			var cost float64
			if rs.cost != nil {
				cost = *rs.cost
			}
			var in, out int64
			if rs.usage != nil {
				in, out = rs.usage.InputTokens, rs.usage.OutputTokens
			}
			rs.svc.metrics.Usage(cost, in, out)
			rs.logger.Info("assistant message saved", "chars", len(text))
		}
	}

	// A task the caller named is kept even when the turn produced nothing.
	if rs.req.TaskID == "" {
		for _, id := range rs.createdIDs {
			rs.cleanup(ctx, id)
		}
	}
	return err
}

func (rs *runState) cleanup(ctx context.Context, id string) {
	n, err := rs.svc.store.CountAssistantMessages(ctx, id)
	if err != nil {
		rs.logger.Error("counting assistant messages failed", "cleanup_task_id", id, "error", err)
		return
	}
	if n > 0 {
		return
	}
	if err := rs.svc.DeleteTask(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		rs.logger.Error("deleting empty task failed", "cleanup_task_id", id, "error", err)
		return
	}
	rs.deleted = append(rs.deleted, id)
	rs.svc.metrics.EmptyTaskDeleted()
	rs.logger.Info("deleted empty task", "cleanup_task_id", id)
	if rs.task != nil && rs.task.ID == id {
		rs.task = nil
	}
}

func (rs *runState) result() Result {
	res := Result{
		RunID:     rs.runID,
		SessionID: rs.sessionID,
		Switched:  rs.switched,
		Deleted:   rs.deleted,
	}
	if rs.task != nil {
		res.TaskID = rs.task.ID
	}
	return res
}
