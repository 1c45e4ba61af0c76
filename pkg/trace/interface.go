// Package trace exports sanitized extraction traces as JSON lines.
package trace

import (
	"context"
	"time"
)

// Exporter defines the interface for exporting operation traces.
// Implementations must be safe for concurrent use.
type Exporter interface {
	// Export writes a trace record to the configured destination.
	Export(ctx context.Context, record *TraceRecord) error

	// Close flushes any buffered records and releases resources.
	Close() error
}

// TraceRecord is an operation trace ready for export.
// It never carries the input text, the schema or the backend reply.
type TraceRecord struct {
	// Timestamp is the operation start time
	Timestamp time.Time `json:"timestamp"`

	// OperationID correlates the record with logs and the X-Request-Id header
	OperationID string `json:"operationId"`

	// Operation is the operation type, e.g. "extract"
	Operation string `json:"operation"`

	DurationMs int64 `json:"durationMs"`

	// Status is "success" or "error"
	Status string `json:"status"`

	Spans []SpanRecord `json:"spans"`

	// ErrorType is the classified error kind when Status == "error"
	ErrorType string `json:"errorType,omitempty"`

	// IDs holds non-content identifiers such as the backend family
	IDs map[string]any `json:"ids,omitempty"`
}

// SpanRecord represents a single stage within an operation.
type SpanRecord struct {
	// Name is the stage name: prompt, complete or recover
	Name string `json:"name"`

	DurationMs int64 `json:"durationMs"`
	OK         bool  `json:"ok"`

	ErrorType string `json:"errorType,omitempty"`

	// Counters provides stage-specific sizes, e.g. promptBytes, replyBytes
	Counters map[string]int64 `json:"counters,omitempty"`
}
