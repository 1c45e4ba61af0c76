package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dan-solli/entityx/internal/config"
	"github.com/dan-solli/entityx/internal/suite"
	"github.com/dan-solli/entityx/pkg/client"
	"github.com/dan-solli/entityx/pkg/harness"
	"github.com/dan-solli/entityx/pkg/store"
)

type testOptions struct {
	local       bool
	suitePath   string
	endpoint    string
	passRatio   float64
	parallelism int
	caseTimeout time.Duration
	noHistory   bool
	strict      bool
}

func newTestCmd(opts *globalOptions) *cobra.Command {
	to := &testOptions{}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the extraction test suite",
		Long: `Run the built-in suite, or a YAML suite file, through the extraction endpoint
(or in-process with --local), score every case with fuzzy assertions and print
a summary. Runs are stored when harness.history_db is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runTests(cmd, cfg, logger, to)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&to.local, "local", false, "run the pipeline in-process instead of calling the endpoint")
	f.StringVar(&to.suitePath, "suite", "", "YAML suite file (default: built-in suite)")
	f.StringVar(&to.endpoint, "endpoint", "", "extraction endpoint URL (overrides harness.endpoint)")
	f.Float64Var(&to.passRatio, "pass-ratio", 0, "share of assertions a case needs (overrides harness.pass_ratio)")
	f.IntVar(&to.parallelism, "parallel", 0, "cases to run at once (overrides harness.parallelism)")
	f.DurationVar(&to.caseTimeout, "case-timeout", 0, "per-case deadline (overrides harness.case_timeout)")
	f.BoolVar(&to.noHistory, "no-history", false, "do not store this run")
	f.BoolVar(&to.strict, "strict", false, "exit non-zero when any case fails")
	return cmd
}

func runTests(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, to *testOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if to.endpoint != "" {
		cfg.Harness.Endpoint = to.endpoint
	}
	if cmd.Flags().Changed("pass-ratio") {
		cfg.Harness.PassRatio = to.passRatio
	}
	if to.parallelism > 0 {
		cfg.Harness.Parallelism = to.parallelism
	}
	if to.caseTimeout > 0 {
		cfg.Harness.CaseTimeout = to.caseTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cases := suite.Builtin()
	if to.suitePath != "" {
		loaded, err := suite.LoadFile(to.suitePath)
		if err != nil {
			return err
		}
		cases = loaded
	}

	hOpts := []harness.Option{
		harness.WithPassRatio(cfg.Harness.PassRatio),
		harness.WithCaseTimeout(cfg.Harness.CaseTimeout),
		harness.WithParallelism(cfg.Harness.Parallelism),
		harness.WithLogger(logger.Named("harness")),
	}

	var (
		ext    harness.Extractor
		target string
	)
	if to.local {
		p, err := newPipeline(cfg, logger)
		if err != nil {
			return err
		}
		defer p.Close()
		if p.collector != nil {
			hOpts = append(hOpts, harness.WithMetrics(p.collector))
		}
		ext, target = p.extractor, "local"
	} else {
		c := client.New(cfg.Harness.Endpoint, cfg.Harness.RequestTimeout)
		if err := c.Health(ctx); err != nil {
			pterm.Warning.Printf("Endpoint health check failed: %v\n", err)
		}
		ext, target = c, cfg.Harness.Endpoint
	}

	pterm.DefaultHeader.WithFullWidth().Println("Entity Extraction Tests")
	pterm.Info.Printf("Target: %s, %d cases\n", target, len(cases))

	started := time.Now()
	h := harness.New(ext, hOpts...)
	summary := h.Run(ctx, cases)
	records := h.Records()

	if err := renderRecords(out, records); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := harness.WriteSummary(out, summary); err != nil {
		return err
	}

	if cfg.Harness.HistoryDB != "" && !to.noHistory {
		id, err := saveRun(cmd, cfg.Harness.HistoryDB, &store.Run{
			StartedAt: started,
			Target:    target,
			PassRatio: cfg.Harness.PassRatio,
			Cases:     records,
		})
		if err != nil {
			logger.Warn("failed to store run", zap.Error(err))
		} else {
			pterm.Info.Printf("Run stored as %s\n", id)
		}
	}

	if to.strict && summary.Failed > 0 {
		return errors.Newf("%d of %d cases failed", summary.Failed, summary.Total)
	}
	return nil
}

func saveRun(cmd *cobra.Command, dbPath string, run *store.Run) (string, error) {
	s, err := store.NewSQLiteRunStore(dbPath)
	if err != nil {
		return "", err
	}
	defer s.Close()

	if err := s.SaveRun(cmd.Context(), run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// renderRecords prints one table row per case
func renderRecords(w io.Writer, records []harness.CaseRecord) error {
	data := pterm.TableData{{"Case", "Result", "Assertions", "Duration", "Error"}}
	for _, r := range records {
		result := pterm.Green("PASS")
		if !r.Passed {
			result = pterm.Red("FAIL")
		}
		data = append(data, []string{
			r.Name,
			result,
			fmt.Sprintf("%d/%d", r.AssertionsPassed, r.AssertionsTotal),
			fmt.Sprintf("%.2fs", r.Duration.Seconds()),
			r.Error,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}
