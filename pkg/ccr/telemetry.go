package ccr

import (
	"context"
	"errors"
	"fmt"

	"ccr-client/internal/components/telemetry"
)

const telemetryServiceName = "ccr-client"

// Telemetry receives reports about failures and the http traffic of clients and sessions.
type Telemetry = telemetry.API

// OtlpConfig names the OTLP collector report metrics are exported to, set either GrpcEndpoint
// or HttpEndpoint.
type OtlpConfig = telemetry.OtlpConfig

func defaultTelemetry(tel Telemetry) Telemetry {
	if tel == nil {
		return telemetry.SlogAPI{}
	}
	return tel
}

// SetupTelemetry builds the Telemetry described by `config`: log/slog, and when config.Otlp has
// an endpoint also OpenTelemetry metrics of broken and warning reports. The returned shutdown
// flushes pending metrics and must be called once the clients are done.
func SetupTelemetry(ctx context.Context, config Config) (Telemetry, func(context.Context) error, error) {
	slogApi := telemetry.SlogAPI{}
	if !config.Otlp.Enabled() {
		return slogApi, func(context.Context) error { return nil }, nil
	}

	provider, err := telemetry.Setup(ctx, telemetryServiceName, config.Otlp)
	if err != nil {
		return nil, nil, fmt.Errorf("setup otlp metrics: %w", err)
	}
	otelApi, err := telemetry.NewOtelAPI(provider.Meter(telemetryServiceName))
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("create report instruments: %w", err), provider.Shutdown(ctx))
	}
	return telemetry.MultiAPI{slogApi, otelApi}, provider.Shutdown, nil
}
