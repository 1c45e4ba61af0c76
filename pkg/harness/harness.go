// Package harness runs named extraction cases, scores them with entity
// assertions under a partial-credit rule, and aggregates pass/fail/timing
// statistics.
package harness

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dan-solli/entityx/pkg/assertion"
	"github.com/dan-solli/entityx/pkg/jsonpath"
	"github.com/dan-solli/entityx/pkg/metrics"
	"github.com/dan-solli/entityx/pkg/schema"
)

// DefaultPassRatio is the share of assertions a case needs to pass
const DefaultPassRatio = 0.6

// Extractor produces a recovered object for text and schema. Implemented by
// the HTTP client and by the in-process extraction pipeline.
type Extractor interface {
	Extract(ctx context.Context, text string, s schema.Schema) (map[string]any, error)
}

// Outcome is what a custom case reports back
type Outcome struct {
	Passed   int
	Total    int
	Verdicts []assertion.Verdict
}

// Case is one named test. Declarative cases set Text, Schema and
// Expectations; custom cases set Run instead.
type Case struct {
	Name         string
	Text         string
	Schema       schema.Schema
	Expectations []assertion.Expectation
	// PassRatio overrides the harness ratio when > 0
	PassRatio float64
	Run       func(ctx context.Context, ext Extractor) (Outcome, error)
}

// CaseRecord is the result of one case
type CaseRecord struct {
	Name             string              `json:"name"`
	Passed           bool                `json:"passed"`
	Duration         time.Duration       `json:"duration"`
	AssertionsPassed int                 `json:"assertions_passed"`
	AssertionsTotal  int                 `json:"assertions_total"`
	Verdicts         []assertion.Verdict `json:"verdicts,omitempty"`
	Result           map[string]any      `json:"result,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// CaseDuration pairs a case name with its wall time
type CaseDuration struct {
	Name     string
	Duration time.Duration
}

// Summary aggregates case records
type Summary struct {
	Total       int
	Passed      int
	Failed      int
	SuccessRate float64 // percent, 0 when no cases ran
	Average     time.Duration
	Durations   []CaseDuration
}

// Harness runs cases and accumulates their records. Safe for concurrent use.
type Harness struct {
	ext         Extractor
	passRatio   float64
	caseTimeout time.Duration
	parallelism int
	logger      *zap.Logger
	metrics     metrics.Collector

	mu      sync.Mutex
	records []CaseRecord
}

// Option configures a Harness
type Option func(*Harness)

// WithPassRatio sets the partial-credit ratio (0..1)
func WithPassRatio(r float64) Option {
	return func(h *Harness) { h.passRatio = r }
}

// WithCaseTimeout bounds each case independently of backend timeouts. Zero means no bound.
func WithCaseTimeout(d time.Duration) Option {
	return func(h *Harness) { h.caseTimeout = d }
}

// WithParallelism runs up to n cases at once. 1 is strictly sequential.
func WithParallelism(n int) Option {
	return func(h *Harness) {
		if n > 0 {
			h.parallelism = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(h *Harness) {
		if c != nil {
			h.metrics = c
		}
	}
}

// New creates a harness driving ext
func New(ext Extractor, opts ...Option) *Harness {
	h := &Harness{
		ext:         ext,
		passRatio:   DefaultPassRatio,
		parallelism: 1,
		logger:      zap.NewNop(),
		metrics:     metrics.NewNoopCollector(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Passes applies the partial-credit rule: passed >= ratio * total.
// A case without assertions passes.
func Passes(passed, total int, ratio float64) bool {
	// tolerance keeps 0.6*5 from landing a hair above 3
	return float64(passed) >= ratio*float64(total)-1e-9
}

// Run executes cases and returns the summary over every record so far.
// Records are appended in case order even when cases run in parallel.
func (h *Harness) Run(ctx context.Context, cases []Case) Summary {
	started := time.Now()
	records := make([]CaseRecord, len(cases))

	if h.parallelism <= 1 {
		for i, c := range cases {
			records[i] = h.runCase(ctx, c)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(h.parallelism)
		for i, c := range cases {
			g.Go(func() error {
				records[i] = h.runCase(gctx, c)
				return nil
			})
		}
		_ = g.Wait() // runCase never returns errors
	}

	h.mu.Lock()
	h.records = append(h.records, records...)
	h.mu.Unlock()

	summary := h.Summary()
	status := metrics.StatusSuccess
	if summary.Failed > 0 {
		status = metrics.StatusError
	}
	h.metrics.RecordOperation(ctx, metrics.OpHarness, status, time.Since(started).Milliseconds())
	return summary
}

// RunCase executes a single case and records it
func (h *Harness) RunCase(ctx context.Context, c Case) CaseRecord {
	rec := h.runCase(ctx, c)
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return rec
}

func (h *Harness) runCase(ctx context.Context, c Case) (rec CaseRecord) {
	rec.Name = c.Name
	logger := h.logger.With(zap.String("case", c.Name))
	start := time.Now()

	if h.caseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.caseTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			rec.Passed = false
			rec.Error = fmt.Sprintf("panic: %v", r)
			logger.Error("case panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		rec.Duration = time.Since(start)
		h.metrics.RecordCase(ctx, rec.Passed, rec.Duration.Milliseconds())
		logger.Info("case finished",
			zap.Bool("passed", rec.Passed),
			zap.Int("assertions_passed", rec.AssertionsPassed),
			zap.Int("assertions_total", rec.AssertionsTotal),
			zap.Duration("duration", rec.Duration))
	}()

	ratio := h.passRatio
	if c.PassRatio > 0 {
		ratio = c.PassRatio
	}

	var (
		out Outcome
		err error
	)
	if c.Run != nil {
		out, err = c.Run(ctx, h.ext)
	} else {
		out, rec.Result, err = h.runDeclarative(ctx, c)
	}
	if err == nil && ctx.Err() != nil {
		err = errors.Wrap(ctx.Err(), "case deadline")
	}
	if err != nil {
		rec.Error = err.Error()
		logger.Warn("case failed with error", zap.Error(err))
		return rec
	}

	rec.Verdicts = out.Verdicts
	rec.AssertionsPassed = out.Passed
	rec.AssertionsTotal = out.Total
	rec.Passed = Passes(out.Passed, out.Total, ratio)
	return rec
}

func (h *Harness) runDeclarative(ctx context.Context, c Case) (Outcome, map[string]any, error) {
	for _, e := range c.Expectations {
		if _, err := jsonpath.Parse(e.Path); err != nil {
			return Outcome{}, nil, errors.Wrapf(err, "expectation %q", e.Path)
		}
	}

	result, err := h.ext.Extract(ctx, c.Text, c.Schema)
	if err != nil {
		return Outcome{}, nil, err
	}

	out := Outcome{Total: len(c.Expectations)}
	for _, e := range c.Expectations {
		v := assertion.CheckPath(result, e)
		if v.Passed {
			out.Passed++
		}
		out.Verdicts = append(out.Verdicts, v)
	}
	return out, result, nil
}

// Records returns a copy of every record so far
func (h *Harness) Records() []CaseRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CaseRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Summary derives aggregate numbers from the records. It is recomputed on every call.
func (h *Harness) Summary() Summary {
	return Summarize(h.Records())
}

// Summarize derives a Summary from records
func Summarize(records []CaseRecord) Summary {
	s := Summary{Total: len(records), Durations: make([]CaseDuration, 0, len(records))}

	var total time.Duration
	for _, r := range records {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		total += r.Duration
		s.Durations = append(s.Durations, CaseDuration{Name: r.Name, Duration: r.Duration})
	}

	if s.Total > 0 {
		s.SuccessRate = float64(s.Passed) / float64(s.Total) * 100
		s.Average = total / time.Duration(s.Total)
	}
	return s
}

// Report writes the plain-text summary
func (h *Harness) Report(w io.Writer) error {
	return WriteSummary(w, h.Summary())
}

// WriteSummary writes s in the plain-text report format
func WriteSummary(w io.Writer, s Summary) error {
	ew := &errWriter{w: w}
	ew.printf("TEST SUMMARY\n")
	ew.printf("Total Tests: %d\n", s.Total)
	ew.printf("Passed: %d\n", s.Passed)
	ew.printf("Failed: %d\n", s.Failed)
	ew.printf("Success Rate: %.1f%%\n", s.SuccessRate)
	ew.printf("\nPERFORMANCE METRICS:\n")
	for _, d := range s.Durations {
		ew.printf("  %s: %.2fs\n", d.Name, d.Duration.Seconds())
	}
	ew.printf("  Average: %.2fs\n", s.Average.Seconds())
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
