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
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
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

// Metrics exposes application-level instruments.
type Metrics struct {
	ledgerTransactions metric.Int64Counter
	usageRecords       metric.Int64Counter
	connectorCalls     metric.Int64Counter
	connectorLatency   metric.Float64Histogram
	webhookEvents      metric.Int64Counter
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

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "metering"
	}
	meter := provider.Meter(name)

	ledgerTransactions, err := meter.Int64Counter("metering_ledger_transactions_total")
	if err != nil {
		return nil, err
	}
	usageRecords, err := meter.Int64Counter("metering_usage_records_total")
	if err != nil {
		return nil, err
	}
	connectorCalls, err := meter.Int64Counter("metering_connector_calls_total")
	if err != nil {
		return nil, err
	}
	connectorLatency, err := meter.Float64Histogram("metering_connector_latency_ms")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("metering_webhook_events_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerTransactions: ledgerTransactions,
		usageRecords:       usageRecords,
		connectorCalls:     connectorCalls,
		connectorLatency:   connectorLatency,
		webhookEvents:      webhookEvents,
	}, nil
}

func (m *Metrics) RecordLedgerTransaction(ctx context.Context, txType string) {
	if m == nil || m.ledgerTransactions == nil {
		return
	}
	m.ledgerTransactions.Add(ctx, 1, metric.WithAttributes(attribute.String("type", txType)))
}

func (m *Metrics) RecordUsage(ctx context.Context, resourceType string, deductionFailed bool) {
	if m == nil || m.usageRecords == nil {
		return
	}
	m.usageRecords.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", resourceType),
		attribute.Bool("deduction_failed", deductionFailed),
	))
}

func (m *Metrics) RecordConnectorCall(ctx context.Context, provider string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	)
	if m.connectorCalls != nil {
		m.connectorCalls.Add(ctx, 1, attrs)
	}
	if m.connectorLatency != nil {
		m.connectorLatency.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
