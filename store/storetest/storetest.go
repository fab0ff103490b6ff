// Package storetest holds a behavioural suite shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/liteagent/store"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		task, err := s.CreateTask(ctx, store.NewTask{ID: "t1", Title: "first"})
		require.NoError(t, err)
		assert.Equal(t, "t1", task.ID)
		assert.Equal(t, "first", task.Title)
		assert.Empty(t, task.SessionID)

		got, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Title)
		assert.Zero(t, got.TotalCostUSD)

		_, err = s.CreateTask(ctx, store.NewTask{ID: "t1"})
		assert.ErrorIs(t, err, store.ErrTaskExists)

		_, err = s.GetTask(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("GeneratedIDAndDefaultTitle", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		task, err := s.CreateTask(ctx, store.NewTask{})
		require.NoError(t, err)
		assert.NotEmpty(t, task.ID)
		assert.Regexp(t, `^Conversation \d{4}-\d{2}-\d{2} \d{2}:\d{2}$`, task.Title)
	})

	t.Run("UpdateTitle", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.CreateTask(ctx, store.NewTask{ID: "t1", Title: "old"})
		require.NoError(t, err)
		task, err := s.UpdateTaskTitle(ctx, "t1", "new")
		require.NoError(t, err)
		assert.Equal(t, "new", task.Title)

		_, err = s.UpdateTaskTitle(ctx, "missing", "x")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SessionBinding", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.CreateTask(ctx, store.NewTask{ID: "t1"})
		require.NoError(t, err)
		_, err = s.CreateTask(ctx, store.NewTask{ID: "t2"})
		require.NoError(t, err)

		require.NoError(t, s.SetTaskSession(ctx, "t1", "S1"))
		require.NoError(t, s.SetTaskSession(ctx, "t1", "S1"), "rebinding the same id is a no-op")
		assert.ErrorIs(t, s.SetTaskSession(ctx, "t1", "S2"), store.ErrSessionAlreadySet)
		assert.ErrorIs(t, s.SetTaskSession(ctx, "t2", "S1"), store.ErrSessionTaken)

		owner, err := s.FindTaskBySession(ctx, "S1")
		require.NoError(t, err)
		assert.Equal(t, "t1", owner.ID)

		_, err = s.FindTaskBySession(ctx, "S2")
		assert.ErrorIs(t, err, store.ErrNotFound)

		t2, err := s.GetTask(ctx, "t2")
		require.NoError(t, err)
		assert.Empty(t, t2.SessionID)
	})

	t.Run("Events", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.CreateTask(ctx, store.NewTask{ID: "t1"})
		require.NoError(t, err)

		max, err := s.MaxSequence(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(-1), max)

		require.NoError(t, s.SaveEvent(ctx, "t1", "RUN_STARTED", json.RawMessage(`{"run_id":"r"}`), 0))
		require.NoError(t, s.SaveEvent(ctx, "t1", "RUN_FINISHED", json.RawMessage(`{"run_id":"r"}`), 1))
		assert.ErrorIs(t, s.SaveEvent(ctx, "t1", "RUN_FINISHED", json.RawMessage(`{}`), 1), store.ErrDuplicateSequence)

		max, err = s.MaxSequence(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), max)

		records, err := s.ListEvents(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "RUN_STARTED", records[0].Kind)
		assert.Equal(t, int64(0), records[0].Sequence)
		assert.JSONEq(t, `{"run_id":"r"}`, string(records[0].Payload))
		assert.Equal(t, int64(1), records[1].Sequence)
	})

	t.Run("ConversationsAccrueUsage", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.CreateTask(ctx, store.NewTask{ID: "t1"})
		require.NoError(t, err)

		_, err = s.CreateUserMessage(ctx, "t1", "hi")
		require.NoError(t, err)

		cost, in, out := 0.25, int64(3), int64(5)
		_, err = s.CreateAssistantMessage(ctx, "t1", "hello", store.AssistantUsage{
			CostUSD: &cost, InputTokens: &in, OutputTokens: &out,
			Usage: json.RawMessage(`{"input_tokens":3,"output_tokens":5}`),
		})
		require.NoError(t, err)
		_, err = s.CreateAssistantMessage(ctx, "t1", "again", store.AssistantUsage{CostUSD: &cost})
		require.NoError(t, err)

		convs, err := s.ListConversations(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, convs, 3)
		assert.Equal(t, store.RoleUser, convs[0].Role)
		assert.Equal(t, "hi", convs[0].Content)
		assert.Equal(t, store.RoleAssistant, convs[1].Role)
		require.NotNil(t, convs[1].CostUSD)
		assert.InDelta(t, 0.25, *convs[1].CostUSD, 1e-9)
		assert.Nil(t, convs[2].InputTokens)

		n, err := s.CountAssistantMessages(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		task, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.InDelta(t, 0.5, task.TotalCostUSD, 1e-9)
		assert.Equal(t, int64(3), task.TotalInputTokens)
		assert.Equal(t, int64(5), task.TotalOutputTokens)
	})

	t.Run("ListOrderAndPaging", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		for _, id := range []string{"a", "b", "c"} {
			_, err := s.CreateTask(ctx, store.NewTask{ID: id})
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
		}
		_, err := s.CreateAssistantMessage(ctx, "a", "bump", store.AssistantUsage{})
		require.NoError(t, err)

		tasks, err := s.ListTasks(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, []string{"a", "c", "b"}, ids(tasks))

		page, err := s.ListTasks(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(page))

		empty, err := s.ListTasks(ctx, 5, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.CreateTask(ctx, store.NewTask{ID: "t1"})
		require.NoError(t, err)
		require.NoError(t, s.SetTaskSession(ctx, "t1", "S1"))
		require.NoError(t, s.SaveEvent(ctx, "t1", "RUN_STARTED", json.RawMessage(`{}`), 0))
		_, err = s.CreateUserMessage(ctx, "t1", "hi")
		require.NoError(t, err)

		require.NoError(t, s.DeleteTask(ctx, "t1"))
		assert.ErrorIs(t, s.DeleteTask(ctx, "t1"), store.ErrNotFound)

		_, err = s.GetTask(ctx, "t1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.FindTaskBySession(ctx, "S1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		max, err := s.MaxSequence(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(-1), max)

		// The freed session can be bound again.
		_, err = s.CreateTask(ctx, store.NewTask{ID: "t2"})
		require.NoError(t, err)
		assert.NoError(t, s.SetTaskSession(ctx, "t2", "S1"))
	})

	t.Run("ConcurrentBindOneWinner", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		const n = 8
		for i := range n {
			_, err := s.CreateTask(ctx, store.NewTask{ID: string(rune('a' + i))})
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.SetTaskSession(ctx, string(rune('a'+i)), "shared")
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, store.ErrSessionTaken)
		}
		assert.Equal(t, 1, wins)
	})
}

func ids(tasks []store.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
