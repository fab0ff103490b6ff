// Package replay answers prompts from scripted JSONL transcripts, one
// upstream message per line. It serves development without API access and
// end-to-end tests.
//
// A run resuming session S plays S.jsonl when it exists; every other run
// plays default.jsonl. Before a line is emitted, $SESSION_ID is replaced by
// the run's session id (the resumed one, or a fresh UUID) and $PROMPT by the
// JSON-escaped prompt.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spetersoncode/liteagent"
	"github.com/spetersoncode/liteagent/upstream"
)

// DefaultTranscript is played when no session transcript matches.
const DefaultTranscript = "default.jsonl"

// Config configures the runtime.
type Config struct {
	// Dir holds the transcripts.
	Dir string

	// Delay is waited before each line after the first.
	Delay time.Duration
}

// Runtime implements upstream.Runtime over transcript files.
type Runtime struct {
	cfg Config
}

// New creates a Runtime.
func New(cfg Config) *Runtime {
	return &Runtime{cfg: cfg}
}

// Transcript returns the file a request plays.
func (r *Runtime) Transcript(req upstream.Request) string {
	if req.ResumeSessionID != "" && filepath.Base(req.ResumeSessionID) == req.ResumeSessionID {
		path := filepath.Join(r.cfg.Dir, req.ResumeSessionID+".jsonl")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(r.cfg.Dir, DefaultTranscript)
}

// Open starts playing the request's transcript.
func (r *Runtime) Open(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := r.Transcript(req)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, liteagent.NewPermanentError(fmt.Sprintf("no transcript at %s", path), 0, err).
				WithKind("TranscriptNotFound")
		}
		return nil, fmt.Errorf("opening transcript: %w", err)
	}

	sessionID := req.ResumeSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	prompt, _ := json.Marshal(req.Prompt)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &stream{
		file:    f,
		scanner: scanner,
		delay:   r.cfg.Delay,
		done:    make(chan struct{}),
		replacer: strings.NewReplacer(
			"$SESSION_ID", sessionID,
			"$PROMPT", string(prompt[1:len(prompt)-1]),
		),
	}, nil
}

type stream struct {
	file     *os.File
	scanner  *bufio.Scanner
	replacer *strings.Replacer
	delay    time.Duration

	current json.RawMessage
	err     error
	emitted int

	done      chan struct{}
	closeOnce sync.Once
}

func (s *stream) Next() bool {
	for {
		select {
		case <-s.done:
			return false
		default:
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil && !s.isClosed() {
				s.err = fmt.Errorf("reading transcript: %w", err)
			}
			return false
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if s.emitted > 0 && !s.wait() {
			return false
		}
		line = s.replacer.Replace(line)
		if !json.Valid([]byte(line)) {
			s.err = liteagent.NewPermanentError(fmt.Sprintf("transcript message %d is not JSON", s.emitted+1), 0, nil)
			return false
		}
		s.current = json.RawMessage(line)
		s.emitted++
		return true
	}
}

// wait sleeps for the configured delay, reporting false when closed first.
func (s *stream) wait() bool {
	if s.delay <= 0 {
		return true
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.done:
		return false
	}
}

func (s *stream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) Current() json.RawMessage { return s.current }

func (s *stream) Err() error { return s.err }

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.file.Close()
	})
	return err
}
