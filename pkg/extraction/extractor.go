// Package extraction runs the entity extraction pipeline: prompt, backend call, JSON recovery.
package extraction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dan-solli/entityx/pkg/llm"
	"github.com/dan-solli/entityx/pkg/metrics"
	"github.com/dan-solli/entityx/pkg/prompt"
	"github.com/dan-solli/entityx/pkg/recovery"
	"github.com/dan-solli/entityx/pkg/schema"
	"github.com/dan-solli/entityx/pkg/trace"
)

// Result is the outcome of one extraction
type Result struct {
	// Value is the recovered object, nil when recovery failed
	Value map[string]any
	// RawText is the backend's normalised reply
	RawText string
	// Candidate is the substring recovery parsed
	Candidate string
	// Repaired is true when the candidate needed JSON repair
	Repaired bool
	// OperationID correlates logs, traces and the X-Request-Id header
	OperationID string
	Trace       *OperationTrace
}

// Extractor turns text plus a schema into a recovered JSON object
type Extractor struct {
	backend   llm.Completer
	family    llm.Family
	prompts   prompt.Builder
	recoverer recovery.Recoverer
	logger    *zap.Logger
	metrics   metrics.Collector
	exporter  trace.Exporter
}

// Option configures an Extractor
type Option func(*Extractor)

// WithPromptBuilder replaces the default prompt template
func WithPromptBuilder(b prompt.Builder) Option {
	return func(e *Extractor) { e.prompts = b }
}

// WithRecoverer sets recovery options, e.g. JSON repair
func WithRecoverer(r recovery.Recoverer) Option {
	return func(e *Extractor) { e.recoverer = r }
}

// WithLogger sets the logger; raw replies are logged at debug level
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(e *Extractor) {
		if c != nil {
			e.metrics = c
		}
	}
}

// WithExporter sets the trace exporter
func WithExporter(x trace.Exporter) Option {
	return func(e *Extractor) {
		if x != nil {
			e.exporter = x
		}
	}
}

// WithBackendFamily labels traces with the backend family
func WithBackendFamily(f llm.Family) Option {
	return func(e *Extractor) { e.family = f }
}

// New creates an extractor over backend
func New(backend llm.Completer, opts ...Option) *Extractor {
	e := &Extractor{
		backend:  backend,
		logger:   zap.NewNop(),
		metrics:  metrics.NewNoopCollector(),
		exporter: &trace.NoopExporter{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type operationIDKey struct{}

// WithOperationID stores an operation id in ctx
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationID returns the id stored by WithOperationID, or ""
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(operationIDKey{}).(string)
	return id
}

// Run executes the pipeline. The returned Result is never nil: on failure it
// still carries the trace and whatever reply text was received.
func (e *Extractor) Run(ctx context.Context, text string, s schema.Schema) (*Result, error) {
	opID := OperationID(ctx)
	if opID == "" {
		opID = uuid.NewString()
	}

	started := time.Now()
	res := &Result{OperationID: opID, Trace: newTrace()}
	logger := e.logger.With(zap.String("operation_id", opID))

	err := e.run(ctx, text, s, res, logger)

	e.finish(ctx, res, started, err, logger)
	return res, err
}

func (e *Extractor) run(ctx context.Context, text string, s schema.Schema, res *Result, logger *zap.Logger) error {
	if !s.IsValid() {
		return &ValidationError{Reason: "entities must be a non-empty schema"}
	}

	timer := newSpanTimer(StagePrompt, res.Trace)
	p := e.prompts.Build(text, s)
	e.metrics.RecordStage(ctx, metrics.OpExtract, StagePrompt,
		timer.finish(nil, map[string]int64{"promptBytes": int64(len(p))}))

	timer = newSpanTimer(StageComplete, res.Trace)
	reply, err := e.backend.Complete(ctx, p)
	e.metrics.RecordStage(ctx, metrics.OpExtract, StageComplete,
		timer.finish(err, map[string]int64{"replyBytes": int64(len(reply))}))
	if err != nil {
		return err
	}
	res.RawText = reply
	logger.Debug("llm response", zap.String("reply", reply))

	timer = newSpanTimer(StageRecover, res.Trace)
	recovered, err := e.recoverer.Recover(reply)
	e.metrics.RecordStage(ctx, metrics.OpExtract, StageRecover, timer.finish(err, nil))
	if err != nil {
		return err
	}

	res.Value = recovered.Value
	res.Candidate = recovered.Candidate
	res.Repaired = recovered.Repaired
	if recovered.Repaired {
		logger.Info("recovered malformed JSON through repair")
	}
	return nil
}

func (e *Extractor) finish(ctx context.Context, res *Result, started time.Time, err error, logger *zap.Logger) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		kind := Classify(err)
		e.metrics.RecordError(ctx, metrics.OpExtract, kind)
		if IsDiagnostic(err) {
			logger.Warn("no usable JSON in llm response", zap.String("error_type", kind), zap.Error(err))
		} else {
			logger.Error("extraction failed", zap.String("error_type", kind), zap.Error(err))
		}
	}
	e.metrics.RecordOperation(ctx, metrics.OpExtract, status, res.Trace.TotalDurationMs)

	ids := map[string]any{}
	if e.family != "" {
		ids["backend"] = string(e.family)
	}
	if res.Repaired {
		ids["repaired"] = true
	}
	if exportErr := e.exporter.Export(ctx, res.Trace.record(res.OperationID, started, err, ids)); exportErr != nil {
		// tracing must never fail an extraction
		logger.Warn("trace export failed", zap.Error(exportErr))
	}
}

// Extract returns the recovered object the way the HTTP endpoint would:
// recovery failures become the diagnostic payload with a nil error, other
// failures are returned as errors.
func (e *Extractor) Extract(ctx context.Context, text string, s schema.Schema) (map[string]any, error) {
	res, err := e.Run(ctx, text, s)
	if err != nil {
		if payload, ok := Diagnostic(err); ok {
			return payload, nil
		}
		return nil, err
	}
	return res.Value, nil
}
