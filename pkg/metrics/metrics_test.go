package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollector_RecordOperation(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordOperation(ctx, OpExtract, StatusSuccess, 1000)
	collector.RecordOperation(ctx, OpExtract, StatusSuccess, 1500)
	collector.RecordOperation(ctx, OpExtract, StatusError, 500)
	collector.RecordOperation(ctx, OpHarness, StatusSuccess, 200)

	if got := testutil.CollectAndCount(collector.operationsTotal); got != 3 {
		t.Errorf("expected 3 metric series (extract/success, extract/error, harness/success), got %d", got)
	}

	if got := testutil.ToFloat64(collector.operationsTotal.WithLabelValues(OpExtract, StatusSuccess)); got != 2 {
		t.Errorf("expected 2 extract/success operations, got %f", got)
	}
	if got := testutil.ToFloat64(collector.operationsTotal.WithLabelValues(OpExtract, StatusError)); got != 1 {
		t.Errorf("expected 1 extract/error operation, got %f", got)
	}
}

func TestMetricsCollector_RecordStage(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordStage(ctx, OpExtract, "prompt", 1)
	collector.RecordStage(ctx, OpExtract, "complete", 2500)
	collector.RecordStage(ctx, OpExtract, "complete", 3000)

	if got := testutil.CollectAndCount(collector.operationDuration); got != 2 {
		t.Errorf("expected 2 histogram series, got %d", got)
	}
}

func TestMetricsCollector_RecordError(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordError(ctx, OpExtract, "transport")
	collector.RecordError(ctx, OpExtract, "transport")
	collector.RecordError(ctx, OpExtract, "no_json")

	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues(OpExtract, "transport")); got != 2 {
		t.Errorf("expected 2 transport errors, got %f", got)
	}
	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues(OpExtract, "no_json")); got != 1 {
		t.Errorf("expected 1 no_json error, got %f", got)
	}
}

func TestMetricsCollector_RecordCase(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordCase(ctx, true, 1200)
	collector.RecordCase(ctx, true, 800)
	collector.RecordCase(ctx, false, 30000)

	if got := testutil.ToFloat64(collector.casesTotal.WithLabelValues("true")); got != 2 {
		t.Errorf("expected 2 passed cases, got %f", got)
	}
	if got := testutil.ToFloat64(collector.casesTotal.WithLabelValues("false")); got != 1 {
		t.Errorf("expected 1 failed case, got %f", got)
	}
}

func TestMetricsCollector_Registry(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	// Generate some metrics first so they appear in the registry
	collector.RecordOperation(ctx, "test", StatusSuccess, 100)
	collector.RecordError(ctx, "test", "error1")
	collector.RecordCase(ctx, true, 10)

	metricFamilies, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	// operations_total, operation_duration, errors_total, cases_total, case_duration
	if len(metricFamilies) != 5 {
		t.Errorf("expected 5 metric families, got %d", len(metricFamilies))
	}
}

func TestMetricsCollector_Handler(t *testing.T) {
	collector := NewCollector()
	collector.RecordOperation(context.Background(), OpExtract, StatusSuccess, 100)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `entityx_operations_total{operation="extract",status="success"} 1`) {
		t.Errorf("exposition missing operations counter:\n%s", body)
	}
}

func TestNoopCollector(t *testing.T) {
	var c Collector = NewNoopCollector()
	ctx := context.Background()

	// must not panic
	c.RecordOperation(ctx, OpExtract, StatusSuccess, 1)
	c.RecordStage(ctx, OpExtract, "prompt", 1)
	c.RecordError(ctx, OpExtract, "internal")
	c.RecordCase(ctx, false, 1)
}
