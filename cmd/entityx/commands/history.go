package commands

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dan-solli/entityx/pkg/harness"
	"github.com/dan-solli/entityx/pkg/store"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	openStore := func(cmd *cobra.Command) (*store.SQLiteRunStore, error) {
		cfg, _, err := opts.load(cmd)
		if err != nil {
			return nil, err
		}
		path := cfg.Harness.HistoryDB
		if dbPath != "" {
			path = dbPath
		}
		if path == "" {
			return nil, errors.New("no history database: set harness.history_db or pass --db")
		}
		return store.NewSQLiteRunStore(path)
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored test runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored runs")
				return nil
			}
			return renderRuns(cmd.OutOrStdout(), runs)
		},
	}

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the cases and summary of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s against %s at %s\n\n", run.ID, run.Target, run.StartedAt.Local().Format("2006-01-02 15:04:05"))
			if err := renderRecords(out, run.Cases); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return harness.WriteSummary(out, run.Summary())
		},
	}

	rm := &cobra.Command{
		Use:   "rm <run-id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database (overrides harness.history_db)")
	cmd.Flags().IntVar(&limit, "limit", 10, "runs to list, 0 for all")
	cmd.AddCommand(show, rm)
	return cmd
}

func renderRuns(w io.Writer, runs []*store.Run) error {
	data := pterm.TableData{{"ID", "Started", "Target", "Passed", "Success Rate", "Average"}}
	for _, run := range runs {
		s := run.Summary()
		data = append(data, []string{
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Target,
			fmt.Sprintf("%d/%d", s.Passed, s.Total),
			fmt.Sprintf("%.1f%%", s.SuccessRate),
			fmt.Sprintf("%.2fs", s.Average.Seconds()),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}
