package ccr

import (
	"context"
	"testing"

	"ccr-client/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestSetupTelemetrySlogOnly(t *testing.T) {
	tel, shutdown, err := SetupTelemetry(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.IsType(t, telemetry.SlogAPI{}, tel)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupTelemetryOtlp(t *testing.T) {
	config := DefaultConfig()
	config.Otlp = OtlpConfig{HttpEndpoint: "http://127.0.0.1:4318"}

	tel, shutdown, err := SetupTelemetry(context.Background(), config)
	require.NoError(t, err)
	multi, ok := tel.(telemetry.MultiAPI)
	require.True(t, ok)
	require.Len(t, multi, 2)
	require.IsType(t, telemetry.OtelAPI{}, multi[1])

	client, err := NewClient(config, tel)
	require.NoError(t, err)
	require.NotNil(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing listens on the endpoint
	_ = shutdown(ctx)
}
