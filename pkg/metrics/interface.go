// Package metrics records extraction and harness activity.
//
// The Prometheus collector owns a private registry so several services (or
// tests) in one process never collide on metric names. Callers that do not
// want metrics use NoopCollector.
package metrics

import "context"

// Operation names
const (
	OpExtract = "extract"
	OpHarness = "harness"
)

// Status values for RecordOperation
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Collector is the interface for metrics collection.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	RecordCase(ctx context.Context, passed bool, durationMs int64)
}
