// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Runtime names accepted by RUNTIME.
const (
	RuntimeClaudeCode = "claudecode"
	RuntimeAnthropic  = "anthropic"
	RuntimeOpenAI     = "openai"
	RuntimeReplay     = "replay"
)

// Config holds the server configuration loaded from environment variables.
type Config struct {
	// Server
	Host        string
	Port        string
	CORSOrigins []string
	LogLevel    string // debug, info, warn, error
	LogFormat   string // text, json

	// Storage; an empty DatabasePath keeps everything in memory.
	DatabasePath     string
	DatabasePoolSize int

	// Runtime selection
	Runtime      string
	SystemPrompt string
	MaxTokens    int64

	// Claude Code CLI
	ClaudeBinary         string
	ClaudeWorkDir        string
	ClaudePermissionMode string

	// API keys and models
	AnthropicKey   string
	AnthropicModel string
	OpenAIKey      string
	OpenAIModel    string

	// Replay transcripts
	ReplayDir   string
	ReplayDelay time.Duration

	// Optional cross-process session bind lock
	RedisURL string

	// Streaming
	ChunkSize        int
	StreamPacing     time.Duration
	RetryMaxAttempts int
}

// Load loads configuration from environment variables and validates it.
// It loads a .env file if present (silent fail if not found).
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration without validating it, so callers can
// apply overrides first.
func FromEnv() *Config {
	godotenv.Load() // Load .env file if present

	return &Config{
		Host:                 os.Getenv("HOST"),
		Port:                 getEnvOrDefault("PORT", "8000"),
		CORSOrigins:          getEnvListOrDefault("CORS_ORIGINS", []string{"*"}),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "text"),
		DatabasePath:         os.Getenv("DATABASE_PATH"),
		DatabasePoolSize:     getEnvIntOrDefault("DATABASE_POOL_SIZE", 4),
		Runtime:              getEnvOrDefault("RUNTIME", RuntimeClaudeCode),
		SystemPrompt:         os.Getenv("SYSTEM_PROMPT"),
		MaxTokens:            int64(getEnvIntOrDefault("MAX_TOKENS", 4096)),
		ClaudeBinary:         getEnvOrDefault("CLAUDE_BINARY", "claude"),
		ClaudeWorkDir:        os.Getenv("CLAUDE_WORKDIR"),
		ClaudePermissionMode: os.Getenv("CLAUDE_PERMISSION_MODE"),
		AnthropicKey:         os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:       os.Getenv("ANTHROPIC_MODEL"),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          os.Getenv("OPENAI_MODEL"),
		ReplayDir:            getEnvOrDefault("REPLAY_DIR", "transcripts"),
		ReplayDelay:          getEnvDurationOrDefault("REPLAY_DELAY", 0),
		RedisURL:             os.Getenv("REDIS_URL"),
		ChunkSize:            getEnvIntOrDefault("CHUNK_SIZE", 0),
		StreamPacing:         getEnvDurationOrDefault("STREAM_PACING", 0),
		RetryMaxAttempts:     getEnvIntOrDefault("RETRY_MAX_ATTEMPTS", 3),
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch c.Runtime {
	case RuntimeClaudeCode:
		if c.ClaudeBinary == "" {
			return fmt.Errorf("CLAUDE_BINARY is required for claudecode runtime")
		}
	case RuntimeAnthropic:
		if c.AnthropicKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for anthropic runtime")
		}
	case RuntimeOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for openai runtime")
		}
	case RuntimeReplay:
		if c.ReplayDir == "" {
			return fmt.Errorf("REPLAY_DIR is required for replay runtime")
		}
	default:
		return fmt.Errorf("unknown runtime: %s (must be claudecode, anthropic, openai, or replay)", c.Runtime)
	}

	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.DatabasePoolSize < 1 {
		return fmt.Errorf("DATABASE_POOL_SIZE must be positive, got %d", c.DatabasePoolSize)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("CHUNK_SIZE must not be negative, got %d", c.ChunkSize)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format: %s (must be text or json)", c.LogFormat)
	}
	return nil
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level: %s (must be debug, info, warn, or error)", s)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
