package extraction

import (
	"time"

	"github.com/dan-solli/entityx/pkg/trace"
)

// Stage names recorded as spans
const (
	StagePrompt   = "prompt"
	StageComplete = "complete"
	StageRecover  = "recover"
)

// OperationTrace captures timing data for one extraction
type OperationTrace struct {
	// Spans contains timing data for each stage, in execution order
	Spans []Span `json:"spans"`

	// TotalDurationMs is the sum of span durations in milliseconds
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// Span represents a single timed stage within an operation.
type Span struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
	OK         bool   `json:"ok"`

	// Error contains the error message if OK is false
	Error string `json:"error,omitempty"`

	// Counters holds sizes such as promptBytes and replyBytes
	Counters map[string]int64 `json:"counters,omitempty"`
}

func newTrace() *OperationTrace {
	return &OperationTrace{
		Spans: make([]Span, 0, 3),
	}
}

func (t *OperationTrace) addSpan(span Span) {
	t.Spans = append(t.Spans, span)
	t.TotalDurationMs += span.DurationMs
}

// Span returns the named span, if recorded
func (t *OperationTrace) Span(name string) (Span, bool) {
	if t == nil {
		return Span{}, false
	}
	for _, s := range t.Spans {
		if s.Name == name {
			return s, true
		}
	}
	return Span{}, false
}

// spanTimer measures one span
type spanTimer struct {
	name  string
	start time.Time
	trace *OperationTrace
}

func newSpanTimer(name string, t *OperationTrace) *spanTimer {
	return &spanTimer{name: name, start: time.Now(), trace: t}
}

// finish records the span and returns its duration in milliseconds
func (st *spanTimer) finish(err error, counters map[string]int64) int64 {
	duration := time.Since(st.start).Milliseconds()
	span := Span{
		Name:       st.name,
		DurationMs: duration,
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.Error = err.Error()
	}
	st.trace.addSpan(span)
	return duration
}

// record converts the trace to a sanitized export record.
// Span error messages are reduced to their kind; they can quote the reply.
func (t *OperationTrace) record(opID string, started time.Time, err error, ids map[string]any) *trace.TraceRecord {
	rec := &trace.TraceRecord{
		Timestamp:   started,
		OperationID: opID,
		Operation:   "extract",
		DurationMs:  t.TotalDurationMs,
		Status:      "success",
		Spans:       make([]trace.SpanRecord, 0, len(t.Spans)),
		IDs:         ids,
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = Classify(err)
	}

	for _, s := range t.Spans {
		sr := trace.SpanRecord{
			Name:       s.Name,
			DurationMs: s.DurationMs,
			OK:         s.OK,
			Counters:   s.Counters,
		}
		if !s.OK {
			sr.ErrorType = rec.ErrorType
		}
		rec.Spans = append(rec.Spans, sr)
	}
	return rec
}
