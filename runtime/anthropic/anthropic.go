// Package anthropic runs turns directly on the Anthropic Messages API.
//
// The runtime keeps each session's conversation in memory (bounded, least
// recently used first out) and emits the same system/assistant/result
// message taxonomy as the Claude Code CLI, so resumption and usage
// accounting work identically. Cost is derived from the model's pricing.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/spetersoncode/liteagent"
	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/model"
	"github.com/spetersoncode/liteagent/runtime/internal/wire"
	"github.com/spetersoncode/liteagent/upstream"
)

// DefaultMaxTokens is used when Config.MaxTokens is zero.
const DefaultMaxTokens = 4096

// Config configures the runtime.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string

	// Model defaults to model.DefaultClaudeModel.
	Model model.ChatModel

	MaxTokens    int64
	SystemPrompt string

	// HistorySize bounds the number of sessions kept for resumption.
	HistorySize int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Runtime implements upstream.Runtime on the Messages API.
type Runtime struct {
	client  anthropic.Client
	cfg     Config
	history *wire.History[anthropic.MessageParam]
	now     func() time.Time
}

// New creates a Runtime. The SDK's own retries are disabled; opening a
// stream is retried by the caller.
func New(cfg Config) *Runtime {
	if cfg.Model.String() == "" {
		cfg.Model = model.DefaultClaudeModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Runtime{
		client:  anthropic.NewClient(opts...),
		cfg:     cfg,
		history: wire.NewHistory[anthropic.MessageParam](cfg.HistorySize),
		now:     time.Now,
	}
}

// Open sends the prompt, continuing the session's conversation when the
// runtime knows it.
func (r *Runtime) Open(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	sessionID := req.ResumeSessionID
	prior, known := r.history.Get(sessionID)
	switch {
	case sessionID == "":
		sessionID = uuid.NewString()
	case !known:
		r.cfg.Logger.Warn("resuming unknown session, starting a fresh conversation", "session_id", sessionID)
	}

	user := anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.cfg.Model.String()),
		MaxTokens: r.cfg.MaxTokens,
		Messages:  append(prior, user),
	}
	if r.cfg.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.cfg.SystemPrompt}}
	}

	start := r.now()
	sdk := r.client.Messages.NewStreaming(ctx, params)
	if err := sdk.Err(); err != nil {
		sdk.Close()
		return nil, wrapError(err)
	}

	fill := func() ([]json.RawMessage, error) {
		var acc anthropic.Message
		for sdk.Next() {
			if err := acc.Accumulate(sdk.Current()); err != nil {
				return nil, liteagent.NewPermanentError("accumulating message stream", 0, err)
			}
		}
		if err := sdk.Err(); err != nil {
			return nil, wrapError(err)
		}

		usage := event.Usage{
			InputTokens:              acc.Usage.InputTokens,
			OutputTokens:             acc.Usage.OutputTokens,
			CacheCreationInputTokens: acc.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     acc.Usage.CacheReadInputTokens,
		}
		blocks, text := convertContent(acc.Content)
		r.history.Append(sessionID, user, acc.ToParam())

		return []json.RawMessage{
			wire.Assistant(acc.ID, string(acc.Model), blocks, usage),
			wire.ResultMessage(wire.Result{
				SessionID:    sessionID,
				DurationMS:   r.now().Sub(start).Milliseconds(),
				NumTurns:     1,
				TotalCostUSD: r.cfg.Model.Cost(usage),
				Usage:        usage,
				Text:         text,
			}),
		}, nil
	}

	first := []json.RawMessage{wire.System(sessionID, r.cfg.Model.String())}
	return wire.NewStream(first, fill, sdk.Close), nil
}

// Sessions returns the number of sessions the runtime can resume.
func (r *Runtime) Sessions() int {
	return r.history.Len()
}

// convertContent maps response blocks to stream-json blocks and returns the
// concatenated text.
func convertContent(content []anthropic.ContentBlockUnion) ([]wire.Block, string) {
	blocks := make([]wire.Block, 0, len(content))
	var text string
	for _, block := range content {
		switch block.Type {
		case "text":
			blocks = append(blocks, wire.TextBlock(block.Text))
			text += block.Text
		case "thinking":
			blocks = append(blocks, wire.ThinkingBlock(block.Thinking))
		case "tool_use":
			blocks = append(blocks, wire.ToolUseBlock(block.ID, block.Name, block.Input))
		}
	}
	return blocks, text
}

// wrapError wraps an Anthropic SDK error with liteagent error categorization.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		// Not an API error, return as-is (likely network error, handled by heuristics)
		return err
	}
	return wire.WrapStatus(err, apiErr.StatusCode, apiErr.Response)
}
