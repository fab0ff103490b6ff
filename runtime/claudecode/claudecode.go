// Package claudecode runs turns on the Claude Code CLI. Each run spawns
// `claude --print --output-format stream-json` and streams its stdout, one
// JSON message per line.
package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spetersoncode/liteagent"
	"github.com/spetersoncode/liteagent/upstream"
)

// DefaultBinary is used when Config.Binary is empty.
const DefaultBinary = "claude"

// maxLine bounds one stream-json line. Tool results with large file
// contents produce long lines.
const maxLine = 1024 * 1024

// stderrTail bounds the stderr kept for error messages.
const stderrTail = 4096

// Config configures the CLI invocation.
type Config struct {
	// Binary is the claude executable, DefaultBinary when empty.
	Binary string

	// WorkDir is the agent's working directory.
	WorkDir string

	// PermissionMode is passed as --permission-mode when set, e.g. "acceptEdits".
	PermissionMode string

	// SystemPrompt is passed as --append-system-prompt when set.
	SystemPrompt string

	// ExtraArgs are appended before the prompt.
	ExtraArgs []string

	// Env is appended to the current environment.
	Env []string

	// WaitDelay bounds how long Close waits for the process after killing it.
	WaitDelay time.Duration

	Logger *slog.Logger
}

// Runtime implements upstream.Runtime on the Claude Code CLI.
type Runtime struct {
	cfg Config
}

// New creates a Runtime.
func New(cfg Config) *Runtime {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runtime{cfg: cfg}
}

// Args returns the command-line arguments for req.
func (r *Runtime) Args(req upstream.Request) []string {
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	if r.cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", r.cfg.PermissionMode)
	}
	if r.cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", r.cfg.SystemPrompt)
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	args = append(args, r.cfg.ExtraArgs...)
	// Initial prompt as positional argument.
	return append(args, req.Prompt)
}

// Open spawns the CLI for one run. The process lives until the stream ends
// or is closed; ctx only bounds the spawn.
func (r *Runtime) Open(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	command := exec.CommandContext(procCtx, r.cfg.Binary, r.Args(req)...)
	command.Dir = r.cfg.WorkDir
	command.Env = append(os.Environ(), r.cfg.Env...)
	command.WaitDelay = r.cfg.WaitDelay

	stderr := &tailBuffer{limit: stderrTail}
	command.Stderr = stderr

	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, liteagent.NewPermanentError(fmt.Sprintf("claude binary %q not found", r.cfg.Binary), 0, err).
				WithKind("CLINotFound")
		}
		return nil, liteagent.NewTransientError("starting claude", 0, err)
	}

	r.cfg.Logger.Debug("claude started",
		"pid", command.Process.Pid,
		"resume", req.ResumeSessionID != "")

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	return &stream{
		command: command,
		cancel:  cancel,
		scanner: scanner,
		stderr:  stderr,
		logger:  r.cfg.Logger,
	}, nil
}

// stream reads stream-json lines from a running CLI process.
// Next, Current and Err are called from one goroutine; Close may be called
// from any.
type stream struct {
	command *exec.Cmd
	cancel  context.CancelFunc
	scanner *bufio.Scanner
	stderr  *tailBuffer
	logger  *slog.Logger

	current json.RawMessage
	err     error
	done    bool
	closed  atomic.Bool

	waitOnce sync.Once
	waitErr  error
}

func (s *stream) Next() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		s.current = wrapLine(line)
		return true
	}
	s.done = true
	s.finish(s.scanner.Err())
	return false
}

// finish waits for the process and derives the stream error.
func (s *stream) finish(scanErr error) {
	waitErr := s.wait()
	if s.closed.Load() {
		return
	}
	switch {
	case scanErr != nil:
		s.err = liteagent.NewPermanentError("reading claude output", 0, scanErr)
	case waitErr != nil:
		msg := "claude exited with error"
		if tail := strings.TrimSpace(s.stderr.String()); tail != "" {
			msg += ": " + tail
		}
		s.err = liteagent.NewPermanentError(msg, 0, waitErr).WithKind("ProcessError")
	}
}

func (s *stream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.command.Wait()
		s.cancel()
	})
	return s.waitErr
}

func (s *stream) Current() json.RawMessage { return s.current }

func (s *stream) Err() error { return s.err }

// Close kills the process if it is still running and reaps it.
func (s *stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	if err := s.wait(); err != nil {
		s.logger.Debug("claude exited after close", "error", err)
	}
	return nil
}

// wrapLine passes JSON lines through and wraps anything else so the
// decoder sees it as an unknown "output" message.
func wrapLine(line string) json.RawMessage {
	if json.Valid([]byte(line)) {
		return json.RawMessage(line)
	}
	data, _ := json.Marshal(map[string]string{"type": "output", "raw": line})
	return data
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

var _ io.Writer = (*tailBuffer)(nil)

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
