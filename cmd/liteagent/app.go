package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spetersoncode/liteagent/adapter"
	"github.com/spetersoncode/liteagent/internal/config"
	"github.com/spetersoncode/liteagent/internal/metrics"
	"github.com/spetersoncode/liteagent/internal/retry"
	"github.com/spetersoncode/liteagent/model"
	"github.com/spetersoncode/liteagent/runtime/anthropic"
	"github.com/spetersoncode/liteagent/runtime/claudecode"
	"github.com/spetersoncode/liteagent/runtime/openai"
	"github.com/spetersoncode/liteagent/runtime/replay"
	"github.com/spetersoncode/liteagent/session"
	"github.com/spetersoncode/liteagent/store"
	"github.com/spetersoncode/liteagent/store/sqlite"
	"github.com/spetersoncode/liteagent/turn"
	"github.com/spetersoncode/liteagent/upstream"
)

// openStore opens the SQLite store at DATABASE_PATH, or an in-memory one.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabasePath == "" {
		logger.Warn("DATABASE_PATH not set, tasks are kept in memory")
		return store.NewMemory(), nil
	}
	st, err := sqlite.Open(sqlite.Config{
		Path:     cfg.DatabasePath,
		PoolSize: cfg.DatabasePoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DatabasePath, err)
	}
	return st, nil
}

// newRuntime creates the upstream runtime selected by RUNTIME.
func newRuntime(cfg *config.Config, logger *slog.Logger) (upstream.Runtime, error) {
	switch cfg.Runtime {
	case config.RuntimeClaudeCode:
		return claudecode.New(claudecode.Config{
			Binary:         cfg.ClaudeBinary,
			WorkDir:        cfg.ClaudeWorkDir,
			PermissionMode: cfg.ClaudePermissionMode,
			SystemPrompt:   cfg.SystemPrompt,
			Logger:         logger,
		}), nil
	case config.RuntimeAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:       cfg.AnthropicKey,
			Model:        chatModel(cfg.AnthropicModel, model.ProviderAnthropic, logger),
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
			Logger:       logger,
		}), nil
	case config.RuntimeOpenAI:
		return openai.New(openai.Config{
			APIKey:       cfg.OpenAIKey,
			Model:        chatModel(cfg.OpenAIModel, model.ProviderOpenAI, logger),
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
			Logger:       logger,
		}), nil
	case config.RuntimeReplay:
		return replay.New(replay.Config{Dir: cfg.ReplayDir, Delay: cfg.ReplayDelay}), nil
	default:
		return nil, fmt.Errorf("unknown runtime: %s", cfg.Runtime)
	}
}

// chatModel resolves a model id. Unknown ids are used as is, without pricing.
func chatModel(id string, provider model.Provider, logger *slog.Logger) model.ChatModel {
	if id == "" {
		return model.ChatModel{}
	}
	if m, ok := model.Lookup(id); ok {
		return m
	}
	logger.Warn("unknown model, cost will be reported as zero", "model", id)
	return model.Custom(id, provider, model.ChatPricing{})
}

// newLocker connects the Redis bind lock when REDIS_URL is set. A nil
// locker keeps the in-process default.
func newLocker(ctx context.Context, cfg *config.Config) (session.Locker, func() error, error) {
	if cfg.RedisURL == "" {
		return nil, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return session.NewRedisLocker(client), client.Close, nil
}

// newService wires a turn service from the configuration.
func newService(cfg *config.Config, st store.Store, rt upstream.Runtime, locker session.Locker, logger *slog.Logger) *turn.Service {
	rcfg := retry.DefaultConfig()
	rcfg.MaxAttempts = cfg.RetryMaxAttempts

	var aopts []adapter.Option
	if cfg.ChunkSize > 0 {
		aopts = append(aopts, adapter.WithChunkSize(cfg.ChunkSize))
	}
	if cfg.StreamPacing > 0 {
		aopts = append(aopts, adapter.WithPacing(cfg.StreamPacing))
	}

	opts := []turn.Option{
		turn.WithLogger(logger),
		turn.WithMetrics(metrics.Default()),
		turn.WithRetry(rcfg),
		turn.WithRuntimeName(cfg.Runtime),
		turn.WithAdapterOptions(aopts...),
	}
	if locker != nil {
		opts = append(opts, turn.WithLocker(locker))
	}
	return turn.NewService(st, rt, opts...)
}
