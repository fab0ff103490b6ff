package upstream

import (
	"context"
	"encoding/json"
	"sync"
)

// Request is one prompt sent to an upstream runtime.
type Request struct {
	// Prompt is the user's message.
	Prompt string

	// ResumeSessionID continues an existing upstream session when set;
	// an empty value starts a new one.
	ResumeSessionID string
}

// Runtime opens upstream message streams.
type Runtime interface {
	// Open starts one run. The returned stream must be closed by the caller
	// on every path.
	Open(ctx context.Context, req Request) (Stream, error)
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(ctx context.Context, req Request) (Stream, error)

// Open calls f.
func (f RuntimeFunc) Open(ctx context.Context, req Request) (Stream, error) {
	return f(ctx, req)
}

// Stream is an ordered sequence of raw upstream messages, iterated the way
// SDK streams are:
//
//	for s.Next() {
//	    msg := upstream.Decode(s.Current())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	// Next advances to the next message, reporting false at the end of the
	// sequence or on error.
	Next() bool

	// Current returns the message Next advanced to.
	Current() json.RawMessage

	// Err returns the error that ended the sequence, nil on a normal end.
	Err() error

	// Close releases the upstream connection. It is safe to call more than once.
	Close() error
}

// SliceStream is a Stream over a fixed list of messages, optionally ending
// with an error.
type SliceStream struct {
	mu      sync.Mutex
	msgs    []json.RawMessage
	end     error
	pos     int
	current json.RawMessage
	closed  bool
}

// NewSliceStream returns a stream yielding msgs in order, then ending with
// end (nil for a normal end).
func NewSliceStream(msgs []json.RawMessage, end error) *SliceStream {
	return &SliceStream{msgs: msgs, end: end}
}

// Next implements Stream.
func (s *SliceStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.msgs) {
		return false
	}
	s.current = s.msgs[s.pos]
	s.pos++
	return true
}

// Current implements Stream.
func (s *SliceStream) Current() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err implements Stream.
func (s *SliceStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.msgs) {
		return s.end
	}
	return nil
}

// Close implements Stream.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
