package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spetersoncode/liteagent/internal/server"
)

// shutdownTimeout bounds how long in-flight streams may finish after a signal.
const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	host      string
	port      string
	runtime   string
	replayDir string
}

func newServeCommand(opts *options) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.load()
			if flags.host != "" {
				cfg.Host = flags.host
			}
			if flags.port != "" {
				cfg.Port = flags.port
			}
			if flags.runtime != "" {
				cfg.Runtime = flags.runtime
			}
			if flags.replayDir != "" {
				cfg.ReplayDir = flags.replayDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}

			locker, closeLocker, err := newLocker(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeLocker()

			svc := newService(cfg, st, rt, locker, logger)
			srv := &http.Server{
				Addr: cfg.Addr(),
				Handler: server.New(svc,
					server.WithLogger(logger),
					server.WithCORSOrigins(cfg.CORSOrigins...),
				).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      0, // SSE needs no write timeout
				IdleTimeout:       120 * time.Second,
			}

			logger.Info("server starting",
				"addr", cfg.Addr(),
				"runtime", cfg.Runtime,
				"database", cfg.DatabasePath,
				"redis_lock", cfg.RedisURL != "",
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if err := g.Wait(); err != nil {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.host, "host", "", "Listen host (overrides HOST)")
	cmd.Flags().StringVarP(&flags.port, "port", "p", "", "Listen port (overrides PORT)")
	cmd.Flags().StringVar(&flags.runtime, "runtime", "", "Upstream runtime: claudecode, anthropic, openai or replay (overrides RUNTIME)")
	cmd.Flags().StringVar(&flags.replayDir, "replay-dir", "", "Transcript directory of the replay runtime (overrides REPLAY_DIR)")
	return cmd
}
