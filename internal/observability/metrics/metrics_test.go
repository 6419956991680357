package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_key", "tool_invocation"),
		attribute.String("tenant_id", "456"),
		attribute.String("decision", "allow"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "tenant_id" {
			t.Fatalf("tenant_id must not be exported as a label")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordQuotaDecision(ctx, "assistant_query", "allow", "")
	m.RecordUsageEmitted(ctx, "assistant_query", 1)
	m.RecordIdempotency(ctx, "replay")
	m.RecordTxRetry(ctx, 1)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordUsageEmitted(context.Background(), "tool_invocation", 2)
	m.RecordSuppressed(context.Background(), "notification_enqueued", 3)
}
