package commands

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dan-solli/entityx/internal/config"
	"github.com/dan-solli/entityx/pkg/extraction"
	"github.com/dan-solli/entityx/pkg/llm"
	"github.com/dan-solli/entityx/pkg/metrics"
	"github.com/dan-solli/entityx/pkg/prompt"
	"github.com/dan-solli/entityx/pkg/recovery"
	"github.com/dan-solli/entityx/pkg/trace"
)

// pipeline is the in-process extraction stack built from configuration
type pipeline struct {
	extractor *extraction.Extractor
	// collector is nil when metrics are disabled
	collector *metrics.MetricsCollector
	exporter  trace.Exporter
}

func newPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	backend, err := llm.New(cfg.Backend.LLM(), logger.Named("llm"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create backend adapter")
	}

	exporter, err := trace.NewFileExporter(cfg.Trace.File,
		trace.WithMaxSize(cfg.Trace.MaxSize),
		trace.WithMaxRotatedFiles(cfg.Trace.MaxFiles))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace exporter")
	}

	p := &pipeline{exporter: exporter}
	opts := []extraction.Option{
		extraction.WithPromptBuilder(prompt.Builder{
			Template:      cfg.Extraction.PromptTemplate,
			AskConfidence: cfg.Extraction.AskConfidence,
		}),
		extraction.WithRecoverer(recovery.Recoverer{Repair: cfg.Recovery.Repair}),
		extraction.WithLogger(logger.Named("extraction")),
		extraction.WithExporter(exporter),
		extraction.WithBackendFamily(llm.Family(cfg.Backend.Family)),
	}
	if cfg.Metrics.Enabled {
		p.collector = metrics.NewCollector()
		opts = append(opts, extraction.WithMetrics(p.collector))
	}

	p.extractor = extraction.New(backend, opts...)
	return p, nil
}

func (p *pipeline) Close() error {
	return p.exporter.Close()
}
