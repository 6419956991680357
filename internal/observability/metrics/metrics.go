package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes metering instruments. A nil *Metrics records nothing.
type Metrics struct {
	quotaDecisions     metric.Int64Counter
	creditsEmitted     metric.Float64Counter
	usageEvents        metric.Int64Counter
	idempotency        metric.Int64Counter
	legacyDecisions    metric.Int64Counter
	suppressedUnits    metric.Int64Counter
	txRetries          metric.Int64Counter
	rateLimitDecisions metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the metering instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "railmeter"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.quotaDecisions, err = meter.Int64Counter("railmeter_quota_decisions_total"); err != nil {
		return nil, err
	}
	if m.creditsEmitted, err = meter.Float64Counter("railmeter_credits_emitted_total"); err != nil {
		return nil, err
	}
	if m.usageEvents, err = meter.Int64Counter("railmeter_usage_events_total"); err != nil {
		return nil, err
	}
	if m.idempotency, err = meter.Int64Counter("railmeter_idempotency_decisions_total"); err != nil {
		return nil, err
	}
	if m.legacyDecisions, err = meter.Int64Counter("railmeter_daily_quota_decisions_total"); err != nil {
		return nil, err
	}
	if m.suppressedUnits, err = meter.Int64Counter("railmeter_suppressed_units_total"); err != nil {
		return nil, err
	}
	if m.txRetries, err = meter.Int64Counter("railmeter_tx_retries_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDecisions, err = meter.Int64Counter("railmeter_rate_limit_decisions_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordQuotaDecision counts authorize verdicts by event and outcome.
func (m *Metrics) RecordQuotaDecision(ctx context.Context, eventKey, decision, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_key", strings.TrimSpace(eventKey)),
		attribute.String("decision", decision),
		attribute.String("reason", reason),
	)
	m.quotaDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageEmitted counts ledger rows and the credits they carry.
func (m *Metrics) RecordUsageEmitted(ctx context.Context, eventKey string, credits float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_key", strings.TrimSpace(eventKey)))
	m.usageEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
	if credits > 0 {
		m.creditsEmitted.Add(ctx, credits, metric.WithAttributes(attrs...))
	}
}

// RecordIdempotency counts fresh, replayed and conflicting requests.
func (m *Metrics) RecordIdempotency(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.idempotency.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("decision", decision))...))
}

// RecordDailyQuotaDecision counts legacy daily counter verdicts.
func (m *Metrics) RecordDailyQuotaDecision(ctx context.Context, activityType, decision string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("activity_type", activityType),
		attribute.String("decision", decision),
	)
	m.legacyDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSuppressed counts units dropped by partial fulfillment.
func (m *Metrics) RecordSuppressed(ctx context.Context, eventKey string, units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.suppressedUnits.Add(ctx, units, metric.WithAttributes(FilterAttributes(attribute.String("event_key", eventKey))...))
}

// RecordTxRetry counts retried unit-of-work attempts.
func (m *Metrics) RecordTxRetry(ctx context.Context, attempt int) {
	if m == nil {
		return
	}
	m.txRetries.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}

// RecordRateLimit counts token bucket outcomes.
func (m *Metrics) RecordRateLimit(ctx context.Context, endpoint, decision string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("decision", decision),
	)
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Tenant ids are deliberately absent: they would explode cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_key":     {},
	"activity_type": {},
	"decision":      {},
	"reason":        {},
	"endpoint":      {},
	"status_code":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
