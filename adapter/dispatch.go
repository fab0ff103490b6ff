package adapter

import (
	"fmt"
	"log/slog"

	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/upstream"
)

// ConvertFunc converts one decoded message to events.
type ConvertFunc func(upstream.Message) []event.Event

type entry struct {
	kind    upstream.Kind
	convert ConvertFunc
}

// Registry selects the converter for a message by its kind. Entries are
// consulted in priority order and the first one registered for the
// message's kind wins.
type Registry struct {
	entries []entry
	logger  *slog.Logger
}

// NewRegistry returns a registry with the converters of c registered in the
// order system, user, assistant, result, tool.
func NewRegistry(c *Converter, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.Register(upstream.KindSystem, c.System)
	r.Register(upstream.KindUser, c.User)
	r.Register(upstream.KindAssistant, c.Assistant)
	r.Register(upstream.KindResult, c.Result)
	r.Register(upstream.KindTool, c.Tool)
	return r
}

// Register installs fn for kind. Replacing an existing kind keeps its
// priority slot; a new kind goes last.
func (r *Registry) Register(kind upstream.Kind, fn ConvertFunc) {
	for i := range r.entries {
		if r.entries[i].kind == kind {
			r.entries[i].convert = fn
			return
		}
	}
	r.entries = append(r.entries, entry{kind: kind, convert: fn})
}

// Kinds returns the registered kinds in priority order.
func (r *Registry) Kinds() []upstream.Kind {
	kinds := make([]upstream.Kind, len(r.entries))
	for i, e := range r.entries {
		kinds[i] = e.kind
	}
	return kinds
}

// Dispatch converts m with the first matching converter. A message no
// converter accepts, or whose converter panics, becomes a Custom event named
// after its raw discriminant.
func (r *Registry) Dispatch(m upstream.Message) []event.Event {
	for _, e := range r.entries {
		if e.kind != m.Kind() {
			continue
		}
		evs, err := safeConvert(e.convert, m)
		if err != nil {
			r.logger.Error("converter failed", "kind", m.Kind(), "error", err)
			return r.fallback(m)
		}
		return evs
	}
	return r.fallback(m)
}

func safeConvert(fn ConvertFunc, m upstream.Message) (evs []event.Event, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(m), nil
}

func (r *Registry) fallback(m upstream.Message) []event.Event {
	name := upstream.Discriminant(m.Raw())
	if u, ok := m.(upstream.UnknownMessage); ok && u.Discriminant != "" {
		name = u.Discriminant
	}
	if name == "" {
		name = event.NameUnknownMessage
	}
	r.logger.Warn("unrecognized upstream message", "discriminant", name)
	return []event.Event{event.NewCustom(name, map[string]any{"raw": string(m.Raw())})}
}
