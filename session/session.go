// Package session reconciles durable tasks with the upstream session ids
// that only become known partway through a run.
//
// Resolve and ResumptionID decide, before a run starts, which task and which
// upstream session to use. Bind commits a newly observed session id to a
// task and reports a Collision when another task already owns it; the
// caller then continues the run under the owner.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spetersoncode/liteagent/store"
)

// Outcome is the result of Bind.
type Outcome int

const (
	// Bound means the session id was newly attached to the task.
	Bound Outcome = iota + 1
	// Confirmed means the task already held the session id.
	Confirmed
	// Collision means another task owns the session id. Neither binding changed.
	Collision
	// Mismatch means the task already holds a different session id, which is kept.
	Mismatch
)

func (o Outcome) String() string {
	switch o {
	case Bound:
		return "bound"
	case Confirmed:
		return "confirmed"
	case Collision:
		return "collision"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Binding reports what Bind did.
type Binding struct {
	Outcome Outcome
	// Task is the bound task as it stands after Bind.
	Task *store.Task
	// Owner is the task owning the session on Collision.
	Owner *store.Task
}

// ErrEmptySession is returned by Bind for an empty session id.
var ErrEmptySession = errors.New("session: empty session id")

// Reconciler resolves and binds sessions against a task store.
type Reconciler struct {
	tasks  store.TaskStore
	locker Locker
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLocker sets the per-session bind lock. The default is a KeyedMutex.
func WithLocker(l Locker) Option {
	return func(r *Reconciler) { r.locker = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler over tasks.
func NewReconciler(tasks store.TaskStore, opts ...Option) *Reconciler {
	r := &Reconciler{tasks: tasks}
	for _, opt := range opts {
		opt(r)
	}
	if r.locker == nil {
		r.locker = NewKeyedMutex()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve finds the task for a request. The task id wins; an unknown task id
// falls back to the session lookup. With neither it returns nil, nil and the
// caller defers task creation.
func (r *Reconciler) Resolve(ctx context.Context, taskID, sessionID string) (*store.Task, error) {
	if taskID != "" {
		task, err := r.tasks.GetTask(ctx, taskID)
		switch {
		case err == nil:
			return task, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("session: resolve task %s: %w", taskID, err)
		}
	}
	if sessionID != "" {
		task, err := r.tasks.FindTaskBySession(ctx, sessionID)
		switch {
		case err == nil:
			return task, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("session: resolve session %s: %w", sessionID, err)
		}
	}
	return nil, nil
}

// ResumptionID picks the upstream session to resume: the task's bound
// session, then the one on the request, else none.
func ResumptionID(task *store.Task, requestSessionID string) string {
	if task != nil && task.SessionID != "" {
		return task.SessionID
	}
	return requestSessionID
}

// ResumptionID is the method form of the package function.
func (r *Reconciler) ResumptionID(task *store.Task, requestSessionID string) string {
	return ResumptionID(task, requestSessionID)
}

// Bind attaches sessionID to task. Binds of one session id are serialized
// through the Locker.
func (r *Reconciler) Bind(ctx context.Context, task *store.Task, sessionID string) (Binding, error) {
	if sessionID == "" {
		return Binding{}, ErrEmptySession
	}
	if task == nil {
		return Binding{}, errors.New("session: bind without task")
	}
	logger := r.logger.With("task_id", task.ID, "session_id", sessionID)

	switch task.SessionID {
	case sessionID:
		return Binding{Outcome: Confirmed, Task: task}, nil
	case "":
	default:
		r.mismatch(logger, task)
		return Binding{Outcome: Mismatch, Task: task}, nil
	}

	unlock, err := r.locker.Lock(ctx, sessionID)
	if err != nil {
		return Binding{}, fmt.Errorf("session: lock %s: %w", sessionID, err)
	}
	defer unlock()

	owner, err := r.tasks.FindTaskBySession(ctx, sessionID)
	switch {
	case err == nil && owner.ID == task.ID:
		return Binding{Outcome: Confirmed, Task: owner}, nil
	case err == nil:
		r.collision(logger, owner)
		return Binding{Outcome: Collision, Task: task, Owner: owner}, nil
	case !errors.Is(err, store.ErrNotFound):
		return Binding{}, fmt.Errorf("session: find owner of %s: %w", sessionID, err)
	}

	err = r.tasks.SetTaskSession(ctx, task.ID, sessionID)
	switch {
	case err == nil:
		bound := *task
		bound.SessionID = sessionID
		logger.Debug("session bound")
		return Binding{Outcome: Bound, Task: &bound}, nil

	case errors.Is(err, store.ErrSessionTaken):
		// Lost a race to a writer outside this Locker.
		owner, ferr := r.tasks.FindTaskBySession(ctx, sessionID)
		if ferr != nil {
			return Binding{}, fmt.Errorf("session: reread owner of %s: %w", sessionID, ferr)
		}
		r.collision(logger, owner)
		return Binding{Outcome: Collision, Task: task, Owner: owner}, nil

	case errors.Is(err, store.ErrSessionAlreadySet):
		current, gerr := r.tasks.GetTask(ctx, task.ID)
		if gerr != nil {
			return Binding{}, fmt.Errorf("session: reread task %s: %w", task.ID, gerr)
		}
		if current.SessionID == sessionID {
			return Binding{Outcome: Confirmed, Task: current}, nil
		}
		r.mismatch(logger, current)
		return Binding{Outcome: Mismatch, Task: current}, nil
	}
	return Binding{}, fmt.Errorf("session: bind %s to %s: %w", sessionID, task.ID, err)
}

func (r *Reconciler) collision(logger *slog.Logger, owner *store.Task) {
	logger.Error("session id already bound to another task", "owner_task_id", owner.ID)
}

func (r *Reconciler) mismatch(logger *slog.Logger, task *store.Task) {
	logger.Error("task already bound to a different session, keeping original",
		"bound_session_id", task.SessionID)
}
