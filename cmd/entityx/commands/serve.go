package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dan-solli/entityx/internal/server"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Run the HTTP extraction endpoint",
		Long: `Serve POST /entity-extraction and GET /health, plus GET /metrics when metrics
are enabled. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if addr != "" {
				cfg.Server.Addr = addr
			}

			p, err := newPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(); err != nil {
					logger.Warn("failed to close trace exporter", zap.Error(err))
				}
			}()

			srvOpts := []server.Option{
				server.WithLogger(logger.Named("server")),
				server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
			}
			if p.collector != nil {
				srvOpts = append(srvOpts, server.WithMetricsHandler(p.collector.Handler()))
			}

			pterm.Info.Printf("Listening on %s\n", cfg.Server.Addr)
			pterm.Info.Printf("Backend: %s %s\n", cfg.Backend.Family, cfg.Backend.LLM().BaseURL)
			if cfg.Trace.File != "" {
				pterm.Info.Printf("Tracing to %s\n", cfg.Trace.File)
			}

			return server.New(p.extractor, srvOpts...).ListenAndServe(cmd.Context(), cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
