package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("action", "approve"),
		attribute.String("roll_id", "456"),
		attribute.String("engine", "gemini"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "action" && attrs[1].Key != "action" {
		t.Fatalf("expected action to be retained")
	}
	if attrs[0].Key != "engine" && attrs[1].Key != "engine" {
		t.Fatalf("expected engine to be retained")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRollIngested(context.Background(), "high", false)
	m.RecordReviewAction(context.Background(), "approve", 1)
	m.RecordLedgerTransaction(context.Background(), "STOCK_ADJUSTMENT", true)
	m.RecordOCRItem(context.Background(), "gemini", "success")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "stocktake"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordReviewAction(context.Background(), "bulk_approve", 3)
}
