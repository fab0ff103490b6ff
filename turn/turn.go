// Package turn runs one user turn end to end: it resolves the task and the
// upstream session, streams the run's events to the caller while persisting
// them in sequence, binds the session once the upstream reveals it and
// records the assistant's reply.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spetersoncode/liteagent"
	"github.com/spetersoncode/liteagent/adapter"
	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/internal/metrics"
	"github.com/spetersoncode/liteagent/internal/retry"
	"github.com/spetersoncode/liteagent/sequence"
	"github.com/spetersoncode/liteagent/session"
	"github.com/spetersoncode/liteagent/store"
	"github.com/spetersoncode/liteagent/upstream"
)

const tracerName = "github.com/spetersoncode/liteagent/turn"

// TitleLimit is the number of prompt runes used for a lazily created task's title.
const TitleLimit = 50

// Request is one user turn.
type Request struct {
	Message string

	// TaskID and SessionID are optional hints; see session.Reconciler.Resolve.
	TaskID    string
	SessionID string

	// NewTaskID is used when the turn has to create its task. Empty means generated.
	NewTaskID string
}

// Result summarizes a finished turn.
type Result struct {
	RunID     string
	TaskID    string
	SessionID string

	// Switched reports a collision-driven move onto the session's owner.
	Switched bool
	// Deleted lists lazily created tasks removed because they stayed empty.
	Deleted []string
}

// EmitFunc delivers one event to the client. An error ends the turn.
type EmitFunc func(event.Event) error

// Service runs turns. It is safe for concurrent use; the sequencer and the
// reconciler are shared by every turn it runs.
type Service struct {
	store       store.Store
	runtime     upstream.Runtime
	runtimeName string
	reconciler  *session.Reconciler
	seq         *sequence.Sequencer
	retry       retry.Config
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	adapterOpts []adapter.Option
	locker      session.Locker
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the collectors. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer. The default is the global otel provider's.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithRetry sets the retry policy for opening the upstream stream.
func WithRetry(cfg retry.Config) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithLocker sets the session bind lock used by the default reconciler.
func WithLocker(l session.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithSequencer shares a sequencer, for instance across services on one store.
func WithSequencer(seq *sequence.Sequencer) Option {
	return func(s *Service) { s.seq = seq }
}

// WithAdapterOptions appends options applied to every run's adapter.
func WithAdapterOptions(opts ...adapter.Option) Option {
	return func(s *Service) { s.adapterOpts = append(s.adapterOpts, opts...) }
}

// WithRuntimeName labels upstream retry metrics.
func WithRuntimeName(name string) Option {
	return func(s *Service) { s.runtimeName = name }
}

// WithClock sets the clock used for user message ids.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service persisting to st and running turns on rt.
func NewService(st store.Store, rt upstream.Runtime, opts ...Option) *Service {
	s := &Service{
		store:       st,
		runtime:     rt,
		runtimeName: "default",
		retry:       retry.DefaultConfig(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.seq == nil {
		s.seq = sequence.New(st)
	}
	ropts := []session.Option{session.WithLogger(s.logger)}
	if s.locker != nil {
		ropts = append(ropts, session.WithLocker(s.locker))
	}
	s.reconciler = session.NewReconciler(st, ropts...)
	return s
}

// Store returns the service's store.
func (s *Service) Store() store.Store {
	return s.store
}

// Sequencer returns the shared sequencer.
func (s *Service) Sequencer() *sequence.Sequencer {
	return s.seq
}

// DeleteTask deletes a task and drops its sequence cursor.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.seq.Forget(id)
	return nil
}

// open establishes the upstream stream, retrying transient failures.
func (s *Service) open(ctx context.Context, req upstream.Request, logger *slog.Logger) (upstream.Stream, error) {
	ctx, span := s.tracer.Start(ctx, "upstream.Open",
		trace.WithAttributes(attribute.String("runtime", s.runtimeName)))
	defer span.End()

	stream, err := retry.DoNotify(ctx, s.retry, func(e retry.Event) {
		if e.Type == retry.EventRetrying {
			s.metrics.Retry(s.runtimeName)
			logger.Warn("retrying upstream open", "attempt", e.Attempt, "delay", e.Delay, "error", e.Err)
		}
	}, func(ctx context.Context) (upstream.Stream, error) {
		return s.runtime.Open(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return stream, nil
}

// Respond runs a persisted turn, delivering every event to emit. Failures
// after the request is accepted are also reported to emit as one RunError.
func (s *Service) Respond(ctx context.Context, req Request, emit EmitFunc) (Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Result{}, liteagent.ErrEmptyMessage
	}

	ctx, span := s.tracer.Start(ctx, "turn.Respond")
	defer span.End()
	done := s.metrics.TurnStarted()

	task, err := s.reconciler.Resolve(ctx, req.TaskID, req.SessionID)
	if err != nil {
		done("error")
		return Result{}, s.reportOpenFailure(emit, "", err)
	}
	resume := session.ResumptionID(task, req.SessionID)

	aopts := append([]adapter.Option{
		adapter.WithSessionID(resume),
		adapter.WithLogger(s.logger),
	}, s.adapterOpts...)
	a := adapter.New(aopts...)

	logger := s.logger.With("run_id", a.RunID(), "session_id", resume)
	if task != nil {
		logger = logger.With("task_id", task.ID)
	}
	logger.Info("turn started", "task_hint", req.TaskID, "session_hint", req.SessionID)
	span.SetAttributes(attribute.String("run_id", a.RunID()), attribute.String("resume_session_id", resume))

	rs := &runState{
		svc:           s,
		req:           req,
		runID:         a.RunID(),
		task:          task,
		userMessageID: fmt.Sprintf("user-%d", s.now().UnixMilli()),
		emit:          emit,
		logger:        logger,
	}

	// An existing task records the prompt before any response event.
	if task != nil {
		if err := rs.persistUser(ctx); err != nil {
			done("error")
			return rs.result(), s.reportOpenFailure(emit, rs.runID, err)
		}
	}

	stream, err := s.open(ctx, upstream.Request{Prompt: req.Message, ResumeSessionID: resume}, logger)
	if err != nil {
		logger.Error("upstream open failed", "error", err)
		done("error")
		return rs.result(), s.reportOpenFailure(emit, rs.runID, err)
	}
	defer stream.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := a.Stream(runCtx, stream)

	var turnErr error
	for ev := range events {
		if err := rs.handle(ctx, ev); err != nil {
			turnErr = err
			break
		}
	}
	if turnErr != nil {
		cancel()
		_ = stream.Close()
		for range events {
		}
		if !errors.Is(turnErr, errClientGone) {
			logger.Error("turn aborted", "error", turnErr)
			_ = rs.deliver(event.Stamp(event.Event{
				Type:      event.RunError,
				RunID:     rs.runID,
				Error:     turnErr.Error(),
				ErrorType: liteagent.ErrorType(turnErr),
			}))
		}
	}

	if err := rs.finish(context.WithoutCancel(ctx), turnErr == nil); err != nil && turnErr == nil {
		turnErr = err
	}

	outcome := "ok"
	switch {
	case errors.Is(turnErr, errClientGone):
		outcome = "client_gone"
		turnErr = nil
	case turnErr != nil:
		outcome = "error"
	case rs.failed:
		outcome = "run_error"
	}
	done(outcome)
	if turnErr != nil {
		span.RecordError(turnErr)
		span.SetStatus(codes.Error, turnErr.Error())
	}

	res := rs.result()
	span.SetAttributes(attribute.String("task_id", res.TaskID), attribute.Bool("switched", res.Switched))
	logger.Info("turn finished", "outcome", outcome, "task_id", res.TaskID, "session_id", res.SessionID)
	return res, turnErr
}

// Chat runs a stateless turn: nothing is persisted and no task is involved.
func (s *Service) Chat(ctx context.Context, req Request, emit EmitFunc) error {
	if strings.TrimSpace(req.Message) == "" {
		return liteagent.ErrEmptyMessage
	}
	ctx, span := s.tracer.Start(ctx, "turn.Chat")
	defer span.End()
	done := s.metrics.TurnStarted()

	a := adapter.New(append([]adapter.Option{
		adapter.WithSessionID(req.SessionID),
		adapter.WithLogger(s.logger),
	}, s.adapterOpts...)...)
	logger := s.logger.With("run_id", a.RunID())

	stream, err := s.open(ctx, upstream.Request{Prompt: req.Message, ResumeSessionID: req.SessionID}, logger)
	if err != nil {
		done("error")
		return s.reportOpenFailure(emit, a.RunID(), err)
	}
	defer stream.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := a.Stream(runCtx, stream)

	outcome := "ok"
	for ev := range events {
		s.metrics.Event(ev.WireType())
		if ev.Type == event.RunError {
			outcome = "run_error"
		}
		if err := emit(ev); err != nil {
			cancel()
			_ = stream.Close()
			for range events {
			}
			outcome = "client_gone"
			break
		}
	}
	done(outcome)
	return nil
}

// reportOpenFailure tells the client a turn could not start and returns err.
func (s *Service) reportOpenFailure(emit EmitFunc, runID string, err error) error {
	if runID == "" {
		runID = uuid.NewString()
	}
	_ = emit(event.Stamp(event.Event{
		Type:      event.RunError,
		RunID:     runID,
		Error:     err.Error(),
		ErrorType: liteagent.ErrorType(err),
	}))
	return err
}

// lazyTitle is the title of a task created from its first prompt.
func lazyTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= TitleLimit {
		return strings.TrimSpace(message)
	}
	return strings.TrimSpace(string(runes[:TitleLimit])) + "..."
}
