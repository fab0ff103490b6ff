package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/liteagent"
	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/internal/retry"
	"github.com/spetersoncode/liteagent/store"
	"github.com/spetersoncode/liteagent/upstream"
)

func script(msgs ...string) upstream.Runtime {
	return upstream.RuntimeFunc(func(context.Context, upstream.Request) (upstream.Stream, error) {
		raw := make([]json.RawMessage, len(msgs))
		for i, m := range msgs {
			raw[i] = json.RawMessage(m)
		}
		return upstream.NewSliceStream(raw, nil), nil
	})
}

const (
	initS1  = `{"type":"system","subtype":"init","session_id":"S1"}`
	replyHi = `{"type":"assistant","message":{"id":"m1","content":[{"type":"text","text":"Hi"}]}}`
)

type recorder struct {
	events []event.Event
}

func (r *recorder) emit(ev event.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.WireType()
	}
	return out
}

func newService(st store.Store, rt upstream.Runtime, opts ...Option) *Service {
	clock := func() time.Time { return time.UnixMilli(1700000000000) }
	return NewService(st, rt, append([]Option{WithClock(clock), WithRetry(retry.Disabled())}, opts...)...)
}

func kinds(records []store.EventRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Kind
	}
	return out
}

func assertContiguous(t *testing.T, records []store.EventRecord) {
	t.Helper()
	for i, r := range records {
		assert.Equal(t, int64(i), r.Sequence, "record %d (%s)", i, r.Kind)
	}
}

func TestRespond_NewTaskBindsSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st, script(initS1, replyHi))

	var rec recorder
	res, err := svc.Respond(ctx, Request{Message: "hello there"}, rec.emit)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"RunStarted", "SessionInfo", "SystemMessage",
		"TextMessageStart", "TextMessageContent", "TextMessageEnd",
		"RunFinished",
	}, rec.types())
	info := rec.events[1]
	assert.Equal(t, "S1", info.Data["session_id"])
	assert.Equal(t, res.TaskID, info.Data["task_id"])

	finished := rec.events[len(rec.events)-1]
	assert.Nil(t, finished.TotalCostUSD)
	assert.Nil(t, finished.Usage)

	task, err := st.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "S1", task.SessionID)
	assert.Equal(t, "hello there", task.Title)
	assert.Equal(t, "S1", res.SessionID)
	assert.False(t, res.Switched)

	records, err := st.ListEvents(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"TextMessageStart", "TextMessageContent", "TextMessageEnd",
		"RunStarted", "SystemMessage",
		"TextMessageStart", "TextMessageContent", "TextMessageEnd",
		"RunFinished",
	}, kinds(records))
	assertContiguous(t, records)
	userStart := decode(t, records[0].Payload)
	assert.Equal(t, "user-1700000000000", userStart["message_id"])
	assert.Equal(t, "user", userStart["role"])

	var system map[string]any
	require.NoError(t, json.Unmarshal(records[4].Payload, &system))
	assert.Equal(t, "S1", system["session_id"])
	assert.NotContains(t, system, "type", "system messages store only their data")

	convs, err := st.ListConversations(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, store.RoleUser, convs[0].Role)
	assert.Equal(t, "hello there", convs[0].Content)
	assert.Equal(t, store.RoleAssistant, convs[1].Role)
	assert.Equal(t, "Hi", convs[1].Content)
}

func decode(t *testing.T, payload json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(payload, &m))
	return m
}

func TestRespond_SummaryOverridesAccumulated(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	first := newService(st, script(initS1, replyHi))
	res, err := first.Respond(ctx, Request{Message: "one"}, (&recorder{}).emit)
	require.NoError(t, err)

	second := newService(st, script(
		`{"type":"assistant","message":{"id":"m2","content":[{"type":"text","text":"Again"}],"usage":{"input_tokens":10}}}`,
		`{"type":"result","subtype":"success","session_id":"S1","total_cost_usd":0.002,"usage":{"input_tokens":10}}`,
	), WithSequencer(first.Sequencer()))

	var rec recorder
	res2, err := second.Respond(ctx, Request{Message: "two", TaskID: res.TaskID}, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, res.TaskID, res2.TaskID)

	finished := rec.events[len(rec.events)-1]
	require.Equal(t, event.RunFinished, finished.Type)
	require.NotNil(t, finished.TotalCostUSD)
	assert.InDelta(t, 0.002, *finished.TotalCostUSD, 1e-12)
	require.NotNil(t, finished.Usage)
	assert.Equal(t, int64(10), finished.Usage.InputTokens)

	task, err := st.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.InDelta(t, 0.002, task.TotalCostUSD, 1e-12)
	assert.Equal(t, int64(10), task.TotalInputTokens)

	records, err := st.ListEvents(ctx, res.TaskID)
	require.NoError(t, err)
	assertContiguous(t, records)
	// The second prompt is sequenced right after the first run.
	assert.Equal(t, "TextMessageStart", records[9].Kind)
	assert.Equal(t, "user", decode(t, records[9].Payload)["role"])
}

func TestRespond_CollisionSwitchesToOwner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st, script(initS1, replyHi))

	resA, err := svc.Respond(ctx, Request{Message: "first"}, (&recorder{}).emit)
	require.NoError(t, err)
	before, err := st.ListEvents(ctx, resA.TaskID)
	require.NoError(t, err)

	var rec recorder
	resB, err := svc.Respond(ctx, Request{Message: "second"}, rec.emit)
	require.NoError(t, err)

	assert.True(t, resB.Switched)
	assert.Equal(t, resA.TaskID, resB.TaskID)
	require.Len(t, resB.Deleted, 1, "the speculative task is removed")
	assert.NotEqual(t, resA.TaskID, resB.Deleted[0])

	info := rec.events[1]
	require.Equal(t, event.NameSessionInfo, info.WireType())
	assert.Equal(t, resA.TaskID, info.Data["task_id"])

	tasks, err := st.ListTasks(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "S1", tasks[0].SessionID)

	records, err := st.ListEvents(ctx, resA.TaskID)
	require.NoError(t, err)
	assertContiguous(t, records)
	assert.Equal(t, kinds(before), kinds(records[:len(before)]))
	assert.Equal(t, []string{
		"TextMessageStart", "TextMessageContent", "TextMessageEnd",
		"RunStarted", "SystemMessage",
		"TextMessageStart", "TextMessageContent", "TextMessageEnd",
		"RunFinished",
	}, kinds(records[len(before):]))

	convs, err := st.ListConversations(ctx, resA.TaskID)
	require.NoError(t, err)
	require.Len(t, convs, 4)
	assert.Equal(t, "second", convs[2].Content)
	assert.Equal(t, "Hi", convs[3].Content)
}

func TestRespond_EmptyRunDeletesLazyTask(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st, script(`{"type":"result","subtype":"success","session_id":"S9"}`))

	res, err := svc.Respond(ctx, Request{Message: "anyone?"}, (&recorder{}).emit)
	require.NoError(t, err)
	assert.Empty(t, res.TaskID)
	require.Len(t, res.Deleted, 1)

	tasks, err := st.ListTasks(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	_, err = st.FindTaskBySession(ctx, "S9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRespond_CallerTaskNeverDeleted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	task, err := st.CreateTask(ctx, store.NewTask{ID: "keep"})
	require.NoError(t, err)

	svc := newService(st, script(`{"type":"result","subtype":"success"}`))
	res, err := svc.Respond(ctx, Request{Message: "hi", TaskID: task.ID}, (&recorder{}).emit)
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)

	_, err = st.GetTask(ctx, "keep")
	assert.NoError(t, err)
}

func TestRespond_NamedLazyTaskKept(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st, script(`{"type":"result","subtype":"success"}`))

	res, err := svc.Respond(ctx, Request{Message: "hi", TaskID: "thread-7", NewTaskID: "thread-7"}, (&recorder{}).emit)
	require.NoError(t, err)
	assert.Equal(t, "thread-7", res.TaskID)
	assert.Empty(t, res.Deleted)

	_, err = st.GetTask(ctx, "thread-7")
	assert.NoError(t, err)
}

func TestRespond_ServicesSharingStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	a := newService(st, script(initS1, replyHi))
	b := newService(st, script(initS1, replyHi))

	res, err := a.Respond(ctx, Request{Message: "one"}, (&recorder{}).emit)
	require.NoError(t, err)
	for i, svc := range []*Service{b, a} {
		res2, err := svc.Respond(ctx, Request{Message: "again", TaskID: res.TaskID}, (&recorder{}).emit)
		require.NoError(t, err, "turn %d", i+2)
		assert.Equal(t, res.TaskID, res2.TaskID)
	}

	records, err := st.ListEvents(ctx, res.TaskID)
	require.NoError(t, err)
	require.Len(t, records, 27)
	assertContiguous(t, records)
}

func TestRespond_RecreatedTaskStartsAtZero(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st, script(initS1, replyHi))

	_, err := svc.Respond(ctx, Request{Message: "one", NewTaskID: "thread-1"}, (&recorder{}).emit)
	require.NoError(t, err)
	// Deleted behind the service's back, as the CLI does.
	require.NoError(t, st.DeleteTask(ctx, "thread-1"))

	res, err := svc.Respond(ctx, Request{Message: "two", NewTaskID: "thread-1"}, (&recorder{}).emit)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", res.TaskID)

	records, err := st.ListEvents(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, records, 9)
	assertContiguous(t, records)
}

func TestRespond_NewTaskID(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st, script(initS1, replyHi))

	res, err := svc.Respond(ctx, Request{Message: "hi", NewTaskID: "thread-1"}, (&recorder{}).emit)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", res.TaskID)
}

func TestRespond_ResumesBoundSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	task, err := st.CreateTask(ctx, store.NewTask{ID: "t1"})
	require.NoError(t, err)
	require.NoError(t, st.SetTaskSession(ctx, "t1", "S1"))

	var got upstream.Request
	rt := upstream.RuntimeFunc(func(_ context.Context, req upstream.Request) (upstream.Stream, error) {
		got = req
		return upstream.NewSliceStream(nil, nil), nil
	})
	var rec recorder
	_, err = newService(st, rt).Respond(ctx, Request{Message: "hi", TaskID: task.ID, SessionID: "other"}, rec.emit)
	require.NoError(t, err)

	assert.Equal(t, upstream.Request{Prompt: "hi", ResumeSessionID: "S1"}, got)
	assert.Equal(t, "S1", rec.events[0].SessionID)
}

func TestRespond_OpenFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	calls := 0
	rt := upstream.RuntimeFunc(func(context.Context, upstream.Request) (upstream.Stream, error) {
		calls++
		return nil, liteagent.NewPermanentError("no binary", 0, nil)
	})
	svc := newService(st, rt, WithRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond}))

	var rec recorder
	_, err := svc.Respond(ctx, Request{Message: "hi"}, rec.emit)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	require.Len(t, rec.events, 1)
	assert.Equal(t, event.RunError, rec.events[0].Type)
	assert.Equal(t, "permanent", rec.events[0].ErrorType)

	tasks, _ := st.ListTasks(ctx, 0, 10)
	assert.Empty(t, tasks)
}

func TestRespond_RetriesTransientOpen(t *testing.T) {
	var calls atomic.Int32
	rt := upstream.RuntimeFunc(func(context.Context, upstream.Request) (upstream.Stream, error) {
		if calls.Add(1) < 3 {
			return nil, liteagent.NewTransientError("busy", 503, nil)
		}
		return upstream.NewSliceStream([]json.RawMessage{json.RawMessage(replyHi)}, nil), nil
	})
	svc := newService(store.NewMemory(), rt,
		WithRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}))

	var rec recorder
	_, err := svc.Respond(context.Background(), Request{Message: "hi"}, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, event.RunFinished, rec.events[len(rec.events)-1].Type)
}

func TestRespond_StreamErrorEndsWithRunError(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	rt := upstream.RuntimeFunc(func(context.Context, upstream.Request) (upstream.Stream, error) {
		return upstream.NewSliceStream([]json.RawMessage{json.RawMessage(initS1)}, errors.New("pipe closed")), nil
	})

	var rec recorder
	res, err := newService(st, rt).Respond(ctx, Request{Message: "hi"}, rec.emit)
	require.NoError(t, err)

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, event.RunError, last.Type)
	assert.Equal(t, "pipe closed", last.Error)
	assert.Len(t, res.Deleted, 1, "no assistant reply, the lazy task goes")
}

func TestRespond_ClientGoneClosesStream(t *testing.T) {
	ctx := context.Background()
	var src *upstream.SliceStream
	rt := upstream.RuntimeFunc(func(context.Context, upstream.Request) (upstream.Stream, error) {
		src = upstream.NewSliceStream([]json.RawMessage{json.RawMessage(initS1), json.RawMessage(replyHi)}, nil)
		return src, nil
	})

	delivered := 0
	emit := func(event.Event) error {
		delivered++
		if delivered > 1 {
			return errors.New("broken pipe")
		}
		return nil
	}
	_, err := newService(store.NewMemory(), rt).Respond(ctx, Request{Message: "hi"}, emit)
	require.NoError(t, err)
	assert.True(t, src.Closed())
	assert.Equal(t, 2, delivered)
}

// flakyStore fails every SaveEvent once armed.
type flakyStore struct {
	*store.Memory
	armed atomic.Bool
}

func (f *flakyStore) SaveEvent(ctx context.Context, taskID, kind string, payload json.RawMessage, seq int64) error {
	if f.armed.Load() && kind == "TextMessageStart" && seq > 2 {
		return errors.New("disk full")
	}
	return f.Memory.SaveEvent(ctx, taskID, kind, payload, seq)
}

func TestRespond_PersistenceFailureReported(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	st.armed.Store(true)

	var rec recorder
	_, err := newService(st, script(initS1, replyHi)).Respond(context.Background(), Request{Message: "hi"}, rec.emit)
	require.ErrorContains(t, err, "disk full")

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, event.RunError, last.Type)
	assert.Contains(t, last.Error, "disk full")
	for _, ev := range rec.events {
		assert.NotEqual(t, event.RunFinished, ev.Type)
	}
}

func TestRespond_EmptyMessage(t *testing.T) {
	_, err := newService(store.NewMemory(), script()).Respond(context.Background(), Request{Message: "  "}, (&recorder{}).emit)
	assert.ErrorIs(t, err, liteagent.ErrEmptyMessage)
}

func TestRespond_TracksLatestAssistantMessage(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st, script(
		`{"type":"assistant","message":{"id":"m1","content":[{"type":"text","text":"Let me check."}]}}`,
		`{"type":"assistant","message":{"id":"m2","content":[{"type":"text","text":"Done."}]}}`,
	))
	res, err := svc.Respond(ctx, Request{Message: "go"}, (&recorder{}).emit)
	require.NoError(t, err)

	convs, err := st.ListConversations(ctx, res.TaskID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "Done.", convs[1].Content)
}

func TestChat_Stateless(t *testing.T) {
	st := store.NewMemory()
	var rec recorder
	err := newService(st, script(initS1, replyHi)).Chat(context.Background(), Request{Message: "hi"}, rec.emit)
	require.NoError(t, err)

	assert.Equal(t, "RunStarted", rec.types()[0])
	assert.NotContains(t, rec.types(), "SessionInfo")
	tasks, _ := st.ListTasks(context.Background(), 0, 10)
	assert.Empty(t, tasks)
}

func TestLazyTitle(t *testing.T) {
	assert.Equal(t, "short", lazyTitle("  short  "))
	long := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz"
	assert.Equal(t, long[:50]+"...", lazyTitle(long))
	assert.Equal(t, strings.Repeat("é", 50)+"...", lazyTitle(strings.Repeat("é", 60)))
}
