// Package adapter turns an upstream message stream into the AG-UI event
// sequence of one run:
//
//	RunStarted → {message events}* → RunFinished | RunError
//
// Content converters and the message dispatcher are pure; the Adapter drives
// them over a stream and owns the run's usage accumulator.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spetersoncode/liteagent"
	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/upstream"
	"github.com/spetersoncode/liteagent/usage"
)

// State is the run state machine's position.
type State int32

const (
	NotStarted State = iota
	Running
	Finished
	Errored
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Adapter drives one run. Create a new Adapter for each run; Stream may be
// called once.
type Adapter struct {
	runID     string
	sessionID string
	conv      *Converter
	registry  *Registry
	usage     *usage.Accumulator
	pacing    time.Duration
	logger    *slog.Logger

	state atomic.Int32
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRunID sets the run id instead of generating one.
func WithRunID(id string) Option {
	return func(a *Adapter) { a.runID = id }
}

// WithSessionID reports a known upstream session on RunStarted.
func WithSessionID(id string) Option {
	return func(a *Adapter) { a.sessionID = id }
}

// WithChunkSize sets the number of runes per delta.
func WithChunkSize(n int) Option {
	return func(a *Adapter) { a.conv.ChunkSize = n }
}

// WithIDGenerator sets the generator used for message, thinking and tool ids.
func WithIDGenerator(fn func() string) Option {
	return func(a *Adapter) { a.conv.NewID = fn }
}

// WithPacing inserts a delay after every chunk event.
func WithPacing(d time.Duration) Option {
	return func(a *Adapter) { a.pacing = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithConverter registers fn for kind on the adapter's dispatcher.
func WithConverter(kind upstream.Kind, fn ConvertFunc) Option {
	return func(a *Adapter) { a.registry.Register(kind, fn) }
}

// New returns an Adapter in the NotStarted state.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		conv:   &Converter{ChunkSize: DefaultChunkSize},
		usage:  usage.New(),
		logger: slog.Default(),
	}
	a.registry = NewRegistry(a.conv, nil)
	for _, opt := range opts {
		opt(a)
	}
	if a.runID == "" {
		a.runID = uuid.NewString()
	}
	a.logger = a.logger.With("run_id", a.runID)
	a.registry.logger = a.logger
	return a
}

// RunID returns the run id carried by every lifecycle event.
func (a *Adapter) RunID() string {
	return a.runID
}

// State returns the current state. It is safe to call from any goroutine.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Stream runs the state machine over src in a new goroutine. The returned
// channel yields RunStarted first and a single terminal event last, then
// closes. Canceling ctx stops emission. Stream does not close src.
func (a *Adapter) Stream(ctx context.Context, src upstream.Stream) <-chan event.Event {
	ch := event.NewChannel()
	if !a.state.CompareAndSwap(int32(NotStarted), int32(Running)) {
		a.logger.Warn("adapter reused", "state", a.State())
		close(ch)
		return ch
	}
	go a.run(ctx, src, ch)
	return ch
}

func (a *Adapter) run(ctx context.Context, src upstream.Stream, ch chan<- event.Event) {
	defer close(ch)
	defer func() {
		if p := recover(); p != nil {
			a.fail(ctx, ch, &liteagent.Error{
				Msg:  fmt.Sprintf("upstream stream panicked: %v", p),
				Cat:  liteagent.ErrorPermanent,
				Kind: "Panic",
			})
		}
	}()

	start := time.Now()
	if !event.Emit(ctx, ch, event.Event{Type: event.RunStarted, RunID: a.runID, SessionID: a.sessionID}) {
		a.state.Store(int32(Errored))
		return
	}

	for src.Next() {
		msg := upstream.Decode(src.Current())
		a.logger.Debug("upstream message", "kind", msg.Kind())
		a.usage.Observe(msg)

		for _, ev := range a.registry.Dispatch(msg) {
			if !event.Emit(ctx, ch, ev) {
				a.fail(ctx, ch, ctx.Err())
				return
			}
			if a.pacing > 0 && isChunk(ev) {
				select {
				case <-ctx.Done():
				case <-time.After(a.pacing):
				}
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	err := src.Err()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		a.fail(ctx, ch, err)
		return
	}

	cost, u := a.usage.Total()
	duration := time.Since(start).Milliseconds()
	a.state.Store(int32(Finished))
	event.Emit(ctx, ch, event.Event{
		Type:         event.RunFinished,
		RunID:        a.runID,
		DurationMS:   &duration,
		TotalCostUSD: cost,
		Usage:        u,
	})
}

// fail moves to Errored and makes one attempt at delivering RunError.
func (a *Adapter) fail(ctx context.Context, ch chan<- event.Event, err error) {
	if a.State() != Running {
		return
	}
	a.state.Store(int32(Errored))
	a.logger.Warn("run failed", "error", err)
	ev := event.Stamp(event.Event{
		Type:      event.RunError,
		RunID:     a.runID,
		Error:     err.Error(),
		ErrorType: liteagent.ErrorType(err),
	})
	select {
	case ch <- ev:
	default:
		// The consumer is gone or backed up past the buffer.
		event.Emit(ctx, ch, ev)
	}
}

func isChunk(ev event.Event) bool {
	switch ev.Type {
	case event.TextMessageContent, event.ThinkingContent, event.ToolCallArgs:
		return true
	}
	return false
}
