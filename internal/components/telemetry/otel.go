package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OtelAPI turns reports into OpenTelemetry metrics, broken and warning reports become counters
// keyed by report id and ReportCount becomes a gauge. Debug reports are dropped.
type OtelAPI struct {
	broken  metric.Int64Counter
	warning metric.Int64Counter
	count   metric.Int64Gauge
}

func NewOtelAPI(meter metric.Meter) (OtelAPI, error) {
	broken, err := meter.Int64Counter("ccr.reports.broken")
	if err != nil {
		return OtelAPI{}, err
	}
	warning, err := meter.Int64Counter("ccr.reports.warning")
	if err != nil {
		return OtelAPI{}, err
	}
	count, err := meter.Int64Gauge("ccr.reports.count")
	if err != nil {
		return OtelAPI{}, err
	}
	return OtelAPI{broken: broken, warning: warning, count: count}, nil
}

func (o OtelAPI) ReportBroken(id string, params ...any) {
	o.broken.Add(context.Background(), 1, metric.WithAttributes(attribute.String("id", id)))
}

func (o OtelAPI) ReportWarning(id string, params ...any) {
	o.warning.Add(context.Background(), 1, metric.WithAttributes(attribute.String("id", id)))
}

func (o OtelAPI) ReportDebug(msg string, params ...any) {}

func (o OtelAPI) ReportCount(id string, count int64) {
	o.count.Record(context.Background(), count, metric.WithAttributes(attribute.String("id", id)))
}

type OtlpConfig struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

// Enabled is true when an endpoint to export to is configured.
func (c OtlpConfig) Enabled() bool {
	return c.GrpcEndpoint != "" || c.HttpEndpoint != ""
}

// Setup creates a meter provider exporting to the configured OTLP endpoint and installs it as
// the global provider. The caller owns the returned provider and must Shutdown it.
func Setup(ctx context.Context, serviceName string, config OtlpConfig) (*sdkmetric.MeterProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlpMetricExporter(ctx, config)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Second*5))),
		sdkmetric.WithResource(r),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

func otlpMetricExporter(ctx context.Context, c OtlpConfig) (sdkmetric.Exporter, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	if c.GrpcEndpoint != "" {
		return otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpointURL(c.GrpcEndpoint),
			otlpmetricgrpc.WithHeaders(c.Headers),
		)
	}
	return otlpmetrichttp.New(
		ctx,
		otlpmetrichttp.WithEndpointURL(c.HttpEndpoint),
		otlpmetrichttp.WithHeaders(c.Headers),
	)
}
