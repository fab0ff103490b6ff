package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/sequence"
	"github.com/spetersoncode/liteagent/store"
)

// errNoDatabase rejects inspection commands that would only see an empty
// in-memory store.
var errNoDatabase = errors.New("no database configured: set DATABASE_PATH or --db")

// withStore opens the configured database for an inspection command.
func withStore(cmd *cobra.Command, opts *options, fn func(store.Store) error) error {
	cfg := opts.load()
	if cfg.DatabasePath == "" {
		return errNoDatabase
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newTasksCommand(opts *options) *cobra.Command {
	var skip, limit int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List persisted tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(st store.Store) error {
				tasks, err := st.ListTasks(cmd.Context(), skip, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tSESSION\tCOST_USD\tTOKENS_IN\tTOKENS_OUT\tUPDATED")
				for _, t := range tasks {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%d\t%d\t%s\n",
						t.ID, t.Title, orDash(t.SessionID), t.TotalCostUSD,
						t.TotalInputTokens, t.TotalOutputTokens, t.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "Number of tasks to skip")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of tasks to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task with its events and conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(st store.Store) error {
				if err := st.DeleteTask(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("deleting task %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func newReplayCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay <task-id>",
		Short: "Print a task's stored events as SSE frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(st store.Store) error {
				ctx := cmd.Context()
				if _, err := st.GetTask(ctx, args[0]); err != nil {
					return fmt.Errorf("loading task %s: %w", args[0], err)
				}
				records, err := st.ListEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if err := sequence.Verify(records); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					for _, rec := range records {
						if err := enc.Encode(rec); err != nil {
							return err
						}
					}
					return nil
				}
				for _, rec := range records {
					if err := event.WriteNamedSSE(out, rec.Kind, rec.Payload); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON record per line instead of SSE frames")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
