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

// Metrics exposes application-level instruments.
type Metrics struct {
	chargesCreated  metric.Int64Counter
	settlements     metric.Int64Counter
	webhookAttempts metric.Int64Counter
	queueRetries    metric.Int64Counter
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
		name = "payment-gateway"
	}
	meter := provider.Meter(name)

	chargesCreated, err := meter.Int64Counter("gateway_charges_created_total")
	if err != nil {
		return nil, err
	}
	settlements, err := meter.Int64Counter("gateway_charge_settlements_total")
	if err != nil {
		return nil, err
	}
	webhookAttempts, err := meter.Int64Counter("gateway_webhook_attempts_total")
	if err != nil {
		return nil, err
	}
	queueRetries, err := meter.Int64Counter("gateway_queue_retries_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		chargesCreated:  chargesCreated,
		settlements:     settlements,
		webhookAttempts: webhookAttempts,
		queueRetries:    queueRetries,
	}, nil
}

// RecordChargeCreated increments charge creation counts.
func (m *Metrics) RecordChargeCreated(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.TrimSpace(currency)))
	m.chargesCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSettlement increments settlement counts by terminal outcome.
func (m *Metrics) RecordSettlement(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.settlements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookAttempt increments webhook attempt counts by result.
func (m *Metrics) RecordWebhookAttempt(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.webhookAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQueueRetry increments task redelivery counts per queue.
func (m *Metrics) RecordQueueRetry(ctx context.Context, queue string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("queue", strings.TrimSpace(queue)))
	m.queueRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
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
	"currency":    {},
	"outcome":     {},
	"result":      {},
	"queue":       {},
	"status_code": {},
	"route":       {},
	"method":      {},
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
