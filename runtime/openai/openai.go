// Package openai runs turns on the OpenAI Chat Completions API, keeping each
// session's conversation in memory and emitting the stream-json message
// taxonomy the rest of the module consumes.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/model"
	"github.com/spetersoncode/liteagent/runtime/internal/wire"
	"github.com/spetersoncode/liteagent/upstream"
)

// Config configures the runtime.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint, for compatible servers and tests.
	BaseURL string

	// Model defaults to model.DefaultGPTModel.
	Model model.ChatModel

	// MaxTokens is sent when positive.
	MaxTokens    int64
	SystemPrompt string

	// HistorySize bounds the number of sessions kept for resumption.
	HistorySize int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Runtime implements upstream.Runtime on Chat Completions.
type Runtime struct {
	client  openai.Client
	cfg     Config
	history *wire.History[openai.ChatCompletionMessageParamUnion]
	now     func() time.Time
}

// New creates a Runtime. The SDK's own retries are disabled; opening a
// stream is retried by the caller.
func New(cfg Config) *Runtime {
	if cfg.Model.String() == "" {
		cfg.Model = model.DefaultGPTModel
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
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		history: wire.NewHistory[openai.ChatCompletionMessageParamUnion](cfg.HistorySize),
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

	var msgs []openai.ChatCompletionMessageParamUnion
	if r.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(r.cfg.SystemPrompt))
	}
	user := openai.UserMessage(req.Prompt)
	msgs = append(append(msgs, prior...), user)

	params := openai.ChatCompletionNewParams{
		Model:    r.cfg.Model.String(),
		Messages: msgs,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if r.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(r.cfg.MaxTokens)
	}

	start := r.now()
	sdk := r.client.Chat.Completions.NewStreaming(ctx, params)
	if err := sdk.Err(); err != nil {
		sdk.Close()
		return nil, wrapError(err)
	}

	fill := func() ([]json.RawMessage, error) {
		var acc openai.ChatCompletionAccumulator
		for sdk.Next() {
			acc.AddChunk(sdk.Current())
		}
		if err := sdk.Err(); err != nil {
			return nil, wrapError(err)
		}

		cached := acc.Usage.PromptTokensDetails.CachedTokens
		usage := event.Usage{
			InputTokens:          acc.Usage.PromptTokens - cached,
			OutputTokens:         acc.Usage.CompletionTokens,
			CacheReadInputTokens: cached,
		}

		var (
			blocks []wire.Block
			text   string
		)
		if len(acc.Choices) > 0 {
			reply := acc.Choices[0].Message
			text = reply.Content
			if text != "" {
				blocks = append(blocks, wire.TextBlock(text))
			}
			for _, tc := range reply.ToolCalls {
				blocks = append(blocks, wire.ToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
			}
			r.history.Append(sessionID, user, reply.ToParam())
		}

		return []json.RawMessage{
			wire.Assistant(acc.ID, acc.Model, blocks, usage),
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

// wrapError wraps an OpenAI SDK error with liteagent error categorization.
// It extracts status codes and Retry-After headers for proper retry handling.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		// Not an API error, return as-is (likely network error, handled by heuristics)
		return err
	}
	return wire.WrapStatus(err, apiErr.StatusCode, apiErr.Response)
}
