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

// Metrics exposes application-level instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	documentsCreated    metric.Int64Counter
	documentConversions metric.Int64Counter
	numberRetries       metric.Int64Counter
	subscriptionEvents  metric.Int64Counter
	planChanges         metric.Int64Counter
	inconsistentState   metric.Int64Counter
	notificationErrors  metric.Int64Counter
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

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "billingsync"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.documentsCreated, "billingsync_documents_created_total"},
		{&m.documentConversions, "billingsync_document_conversions_total"},
		{&m.numberRetries, "billingsync_document_number_retries_total"},
		{&m.subscriptionEvents, "billingsync_subscription_events_total"},
		{&m.planChanges, "billingsync_plan_changes_total"},
		{&m.inconsistentState, "billingsync_inconsistent_state_total"},
		{&m.notificationErrors, "billingsync_notification_errors_total"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (m *Metrics) RecordDocumentCreated(ctx context.Context, documentType string) {
	if m == nil {
		return
	}
	m.documentsCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("document_type", documentType),
	)...))
}

func (m *Metrics) RecordConversion(ctx context.Context, sourceType, targetType string) {
	if m == nil {
		return
	}
	m.documentConversions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source_type", sourceType),
		attribute.String("document_type", targetType),
	)...))
}

// RecordNumberRetry counts document number collisions that were retried.
func (m *Metrics) RecordNumberRetry(ctx context.Context, documentType string) {
	if m == nil {
		return
	}
	m.numberRetries.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("document_type", documentType),
	)...))
}

func (m *Metrics) RecordSubscriptionEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.subscriptionEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordPlanChange(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.planChanges.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordInconsistentState(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.inconsistentState.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("operation", operation),
	)...))
}

func (m *Metrics) RecordNotificationError(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	m.notificationErrors.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("sink", sink),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"document_type": {},
	"source_type":   {},
	"provider":      {},
	"event_type":    {},
	"outcome":       {},
	"operation":     {},
	"sink":          {},
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
