// Package commands implements the entityx command line.
package commands

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dan-solli/entityx/internal/config"
	"github.com/dan-solli/entityx/internal/logging"
)

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	jsonLogs   bool
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "entityx",
		Short: "LLM entity extraction service and test harness",
		Long: `entityx extracts named entities from free text by prompting a language model
and recovering the JSON object buried in its reply.

Available commands:
  serve    - Run the HTTP extraction endpoint
  test     - Run the extraction test suite against an endpoint or in-process
  extract  - Extract entities from one text
  history  - Inspect stored test runs

Examples:
  entityx serve --config entityx.yaml
  entityx test --local
  echo "Hello, I am John" | entityx extract --entities '{"name": ""}'
  entityx history --limit 5`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML config file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before ENTITYX_* variables are read")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.BoolVar(&opts.jsonLogs, "log-json", false, "emit JSON logs")

	root.AddCommand(
		newServeCmd(opts),
		newTestCmd(opts),
		newExtractCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// load reads configuration and builds the logger, applying flag overrides
func (o *globalOptions) load(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = o.jsonLogs
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize logger")
	}
	return cfg, logger, nil
}
