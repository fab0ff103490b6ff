// Command liteagent serves a conversational agent over HTTP and inspects the
// tasks it has persisted.
//
// Configuration is read from the environment (and a .env file when present);
// flags override it:
//
//	PORT, HOST            - listen address (default :8000)
//	RUNTIME               - claudecode, anthropic, openai or replay (default claudecode)
//	DATABASE_PATH         - SQLite file; empty keeps tasks in memory
//	REDIS_URL             - optional cross-process session bind lock
//	ANTHROPIC_API_KEY     - key for the anthropic runtime
//	OPENAI_API_KEY        - key for the openai runtime
//	LOG_LEVEL, LOG_FORMAT - debug|info|warn|error, text|json
//
// Usage:
//
//	liteagent serve --runtime replay --replay-dir ./transcripts
//	liteagent tasks
//	liteagent replay <task-id>
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spetersoncode/liteagent/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	dbPath    string
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "liteagent",
		Short:         "Stream an upstream agent runtime as AG-UI events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides DATABASE_PATH)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format, text or json (overrides LOG_FORMAT)")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newTasksCommand(opts))
	root.AddCommand(newReplayCommand(opts))
	return root
}

// load reads the environment and applies the shared flags.
func (o *options) load() *config.Config {
	cfg := config.FromEnv()
	if o.dbPath != "" {
		cfg.DatabasePath = o.dbPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	return cfg
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch cfg.LogFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s (must be text or json)", cfg.LogFormat)
	}
}
