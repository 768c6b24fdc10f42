package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const meterName = "xiaoi"

// Metrics records speaker operations as OpenTelemetry instruments and
// exposes them in Prometheus format.
type Metrics struct {
	provider   *sdkmetric.MeterProvider
	handler    http.Handler
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

func New(ctx context.Context, serviceVersion string, logger *slog.Logger) (*Metrics, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("xiaoi"),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(meterName)

	operations, err := meter.Int64Counter("xiaoi_operations",
		metric.WithDescription("Speaker operations by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating counter: %w", err)
	}
	duration, err := meter.Float64Histogram("xiaoi_operation_duration",
		metric.WithDescription("Speaker operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating histogram: %w", err)
	}

	logger.Info("telemetry initialized", "exporter", "prometheus")
	return &Metrics{
		provider:   provider,
		handler:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		operations: operations,
		duration:   duration,
	}, nil
}

// ObserveOperation implements application.OperationObserver.
func (m *Metrics) ObserveOperation(ctx context.Context, op string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	// The caller's context may already be cancelled.
	ctx = context.WithoutCancel(ctx)
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("op", op)))
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down meter provider: %w", err)
	}
	return nil
}
