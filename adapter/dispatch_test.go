package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/upstream"
)

func TestRegistry_PriorityOrder(t *testing.T) {
	r := NewRegistry(&Converter{}, nil)
	assert.Equal(t, []upstream.Kind{
		upstream.KindSystem,
		upstream.KindUser,
		upstream.KindAssistant,
		upstream.KindResult,
		upstream.KindTool,
	}, r.Kinds())
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry(&Converter{NewID: sequentialIDs()}, nil)
	decode := func(s string) upstream.Message { return upstream.Decode(json.RawMessage(s)) }

	t.Run("routes by kind", func(t *testing.T) {
		evs := r.Dispatch(decode(`{"type":"system","subtype":"init"}`))
		require.Len(t, evs, 1)
		assert.Equal(t, event.NameSystemMessage, evs[0].WireType())
	})

	t.Run("unknown tag falls back to custom named after it", func(t *testing.T) {
		evs := r.Dispatch(decode(`{"type":"stream_event","n":1}`))
		require.Len(t, evs, 1)
		assert.Equal(t, "stream_event", evs[0].WireType())
		assert.Equal(t, `{"type":"stream_event","n":1}`, evs[0].Data["raw"])
	})

	t.Run("untagged unknown shape", func(t *testing.T) {
		evs := r.Dispatch(decode(`{"foo":"bar"}`))
		require.Len(t, evs, 1)
		assert.Equal(t, event.NameUnknownMessage, evs[0].WireType())
	})
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(&Converter{}, nil)

	t.Run("replacing keeps the slot", func(t *testing.T) {
		r.Register(upstream.KindUser, func(upstream.Message) []event.Event {
			return []event.Event{event.NewCustom("Replaced", nil)}
		})
		assert.Equal(t, upstream.KindUser, r.Kinds()[1])
		evs := r.Dispatch(upstream.Decode(json.RawMessage(`{"type":"user","content":"x"}`)))
		assert.Equal(t, "Replaced", evs[0].WireType())
	})

	t.Run("panicking converter degrades to fallback", func(t *testing.T) {
		r.Register(upstream.KindTool, func(upstream.Message) []event.Event { panic("boom") })
		evs := r.Dispatch(upstream.Decode(json.RawMessage(`{"type":"tool","id":"t"}`)))
		require.Len(t, evs, 1)
		assert.Equal(t, "tool", evs[0].WireType())
		assert.Contains(t, evs[0].Data["raw"], `"id":"t"`)
	})
}
