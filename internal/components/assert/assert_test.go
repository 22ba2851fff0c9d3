package assert

import (
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestNotNil(t *testing.T) {
	var client *resty.Client
	var tel interface{ ReportDebug(string, ...any) }

	require.PanicsWithValue(t, "http client must not be nil", func() { NotNil(client, "http client") })
	require.PanicsWithValue(t, "telemetry must not be nil", func() { NotNil(tel, "telemetry") })
	require.Panics(t, func() { NotNil(map[string]string(nil), "form") })
	require.NotPanics(t, func() { NotNil(resty.New(), "http client") })
	require.NotPanics(t, func() { NotNil(0, "count") })
}

func TestNotEmptyStr(t *testing.T) {
	require.PanicsWithValue(t, "package id must not be empty", func() { NotEmptyStr("", "package id") })
	require.NotPanics(t, func() { NotEmptyStr("2745", "package id") })
}

func TestTrue(t *testing.T) {
	require.PanicsWithValue(t, "no rpc path", func() { True(false, "no rpc path") })
	require.NotPanics(t, func() { True(true, "unused") })
}
