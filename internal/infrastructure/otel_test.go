package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOTelInitialization(t *testing.T) {
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    "test",
		TraceExporter:  "none",
		EnableMetrics:  true,
		SampleRatio:    1.0,
	}, testLogger())
	require.NoError(t, err)
	require.NotNil(t, providers)

	assert.NotNil(t, providers.Tracer)
	assert.Nil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.PrometheusHTTP)

	counter, err := providers.Meter.Int64Counter("keyledger_test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3, metric.WithAttributes())

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "keyledger_test_total")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestOTelMetricsDisabled(t *testing.T) {
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:   ServiceName,
		TraceExporter: "none",
	}, testLogger())
	require.NoError(t, err)

	assert.Nil(t, providers.PrometheusHTTP)
	assert.NotNil(t, providers.Meter)

	// no-op meter still hands out instruments
	_, err = providers.Meter.Int64Counter("noop_total")
	assert.NoError(t, err)
}

func TestOTelUnsupportedExporter(t *testing.T) {
	_, err := InitializeOTel(&OTelConfig{TraceExporter: "jaeger"}, testLogger())
	assert.Error(t, err)
}

func TestTraceIDFromContextFallsBack(t *testing.T) {
	ctx := WithTraceID(context.Background(), "app-trace")
	assert.Equal(t, "app-trace", TraceIDFromContext(ctx))
}
