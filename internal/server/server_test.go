package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/liteagent/internal/retry"
	"github.com/spetersoncode/liteagent/runtime/replay"
	"github.com/spetersoncode/liteagent/store"
	"github.com/spetersoncode/liteagent/turn"
)

type frame struct {
	name string
	data map[string]any
}

func (f frame) typ() string {
	s, _ := f.data["type"].(string)
	return s
}

func parseSSE(t *testing.T, body string) []frame {
	t.Helper()
	var frames []frame
	var cur frame
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.data != nil {
				frames = append(frames, cur)
			}
			cur = frame{}
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data), line)
		}
	}
	return frames
}

func types(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.typ()
	}
	return out
}

func lastType(t *testing.T, body string) string {
	t.Helper()
	frames := parseSSE(t, body)
	require.NotEmpty(t, frames)
	return frames[len(frames)-1].typ()
}

type fixture struct {
	store   *store.Memory
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := store.NewMemory()
	rt := replay.New(replay.Config{Dir: "testdata"})
	svc := turn.NewService(st, rt,
		turn.WithRetry(retry.Disabled()),
		turn.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	opts = append([]Option{WithHeartbeat(0), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return &fixture{store: st, handler: New(svc, opts...).Handler()}
}

func (f *fixture) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "liteagent")

	rec = f.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "liteagent_turn_total 1\n")
	})))
	rec := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "liteagent_turn_total")
}

func TestCORS(t *testing.T) {
	t.Run("any origin", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(http.MethodOptions, "/api/v1/response", "", "Origin", "http://app.test")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	})

	t.Run("listed origins", func(t *testing.T) {
		f := newFixture(t, WithCORSOrigins("http://app.test"))
		rec := f.do(http.MethodGet, "/health", "", "Origin", "http://app.test")
		assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))

		rec = f.do(http.MethodGet, "/health", "", "Origin", "http://evil.test")
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestResponse_PersistsAndResumes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/response", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	frames := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, frames)
	got := types(frames)
	assert.Equal(t, "RunStarted", got[0])
	assert.Equal(t, "RunFinished", got[len(got)-1])
	assert.Contains(t, got, "SessionInfo")
	assert.Contains(t, got, "TextMessageContent")

	var info frame
	for _, fr := range frames {
		if fr.typ() == "SessionInfo" {
			info = fr
		}
	}
	data, _ := info.data["data"].(map[string]any)
	sessionID, _ := data["session_id"].(string)
	taskID, _ := data["task_id"].(string)
	require.NotEmpty(t, sessionID)
	require.NotEmpty(t, taskID)

	task, err := f.store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, task.SessionID)
	assert.Equal(t, "hello", task.Title)

	rec = f.do(http.MethodPost, "/api/response", `{"message":"again","task_id":"`+taskID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RunFinished", lastType(t, rec.Body.String()))

	convs, err := f.store.ListConversations(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, convs, 4)
	assert.Equal(t, "You said: again", convs[3].Content)

	tasks, err := f.store.ListTasks(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "the second turn resumed the first task")
}

func TestResponse_CamelNaming(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/response?naming=camel", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	frames := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, frames)
	assert.Contains(t, frames[0].data, "runId")
	assert.NotContains(t, frames[0].data, "run_id")
}

func TestResponse_RejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{"message":"  "}`, `{"message":`, `[]`} {
		rec := f.do(http.MethodPost, "/api/v1/response", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
	rec := f.do(http.MethodGet, "/api/v1/response", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResponse_Heartbeat(t *testing.T) {
	st := store.NewMemory()
	rt := replay.New(replay.Config{Dir: "testdata", Delay: 40 * time.Millisecond})
	svc := turn.NewService(st, rt, turn.WithRetry(retry.Disabled()))
	h := New(svc, WithHeartbeat(5*time.Millisecond)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/response", strings.NewReader(`{"message":"hi"}`)))
	assert.Contains(t, rec.Body.String(), ": heartbeat\n\n")
	assert.Equal(t, "RunFinished", lastType(t, rec.Body.String()))
}

func TestChat_IsStateless(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseSSE(t, rec.Body.String())
	got := types(frames)
	require.NotEmpty(t, got)
	assert.Equal(t, "RunStarted", got[0])
	assert.Equal(t, "RunFinished", got[len(got)-1])
	assert.NotContains(t, got, "SessionInfo")
	assert.Contains(t, frames[0].data, "runId")

	tasks, err := f.store.ListTasks(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestAGUI_StreamsSDKEvents(t *testing.T) {
	f := newFixture(t)
	body := `{"thread_id":"thread-1","run_id":"run-1","messages":[{"id":"u1","role":"user","content":"hi"}]}`
	rec := f.do(http.MethodPost, "/api/v1/agui", body)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseSSE(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)
	for _, fr := range frames {
		assert.Equal(t, fr.name, fr.typ(), "frame name matches its type")
	}
	assert.Equal(t, "RUN_STARTED", frames[0].name)
	assert.Equal(t, "thread-1", frames[0].data["threadId"])

	last := frames[len(frames)-1]
	assert.Equal(t, "RUN_FINISHED", last.name)
	assert.Equal(t, "thread-1", last.data["threadId"])

	usage := frames[len(frames)-2]
	assert.Equal(t, "CUSTOM", usage.name)
	assert.Equal(t, "RunUsage", usage.data["name"])

	var names []string
	for _, fr := range frames {
		names = append(names, fr.name)
	}
	assert.Contains(t, names, "TEXT_MESSAGE_CONTENT")

	task, err := f.store.GetTask(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.NotEmpty(t, task.SessionID)

	rec = f.do(http.MethodGet, "/api/v1/tasks/thread-1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "MESSAGES_SNAPSHOT", snap["type"])
	msgs, _ := snap["messages"].([]any)
	assert.Len(t, msgs, 2)
}

func TestAGUI_RejectsInputWithoutPrompt(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/agui", `{"thread_id":"t","messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no messages")
}

func TestTasks_CRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/tasks", `{"id":"t-1","title":"Notes"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var task store.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "t-1", task.ID)
	assert.Equal(t, "Notes", task.Title)

	rec = f.do(http.MethodPost, "/api/v1/tasks", `{"id":"t-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/tasks", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.True(t, strings.HasPrefix(task.Title, "Conversation "), task.Title)

	rec = f.do(http.MethodGet, "/api/v1/tasks?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []store.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 1)

	for _, q := range []string{"?limit=0", "?skip=-1", "?limit=x"} {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/tasks"+q, "").Code, q)
	}

	rec = f.do(http.MethodPatch, "/api/v1/tasks/t-1", `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "Renamed", task.Title)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPatch, "/api/v1/tasks/t-1", `{"title":""}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPatch, "/api/v1/tasks/missing", `{"title":"x"}`).Code)

	rec = f.do(http.MethodGet, "/api/v1/tasks/t-1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/tasks/t-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/tasks/t-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/tasks/t-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/tasks/t-1/events", "").Code)
}

func TestTasks_EventReplay(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/agui", `{"thread_id":"t-9","messages":[{"id":"u1","role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/tasks/t-9/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []store.EventRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.NotEmpty(t, records)
	for i, r := range records {
		assert.EqualValues(t, i, r.Sequence)
	}
	assert.Equal(t, "TextMessageStart", records[0].Kind, "the user prompt is recorded first")

	rec = f.do(http.MethodGet, "/api/v1/tasks/t-9/events", "", "Accept", "text/event-stream")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Len(t, parseSSE(t, rec.Body.String()), len(records))
}
