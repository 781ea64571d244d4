package infrastructure

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"stardust/internal/config"
	"stardust/internal/shared/testutil"
)

func TestInitializeOTel(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.TelemetryConfig
		wantTracer bool
		wantMeter  bool
		wantErr    string
	}{
		{name: "disabled", cfg: config.TelemetryConfig{TraceExporter: "none", MetricExporter: "none"}},
		{name: "prometheus only", cfg: config.TelemetryConfig{TraceExporter: "none", MetricExporter: "prometheus"}, wantMeter: true},
		{name: "stdout traces", cfg: config.TelemetryConfig{TraceExporter: "stdout", MetricExporter: "none", SampleRatio: 1}, wantTracer: true},
		{name: "unknown trace exporter", cfg: config.TelemetryConfig{TraceExporter: "jaeger"}, wantErr: "unsupported trace exporter"},
		{name: "unknown metric exporter", cfg: config.TelemetryConfig{MetricExporter: "statsd"}, wantErr: "unsupported metric exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			providers, err := InitializeOTel(tt.cfg, logger)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			assert.NotNil(t, providers.Tracer)
			assert.NotNil(t, providers.Meter)
			assert.Equal(t, tt.wantTracer, providers.TracerProvider != nil)
			assert.Equal(t, tt.wantMeter, providers.MeterProvider != nil)
			assert.Equal(t, tt.wantMeter, providers.PrometheusHTTP != nil)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			assert.NoError(t, providers.Shutdown(ctx))
		})
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	providers, err := InitializeOTel(config.TelemetryConfig{MetricExporter: "prometheus"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	counter, err := providers.Meter.Int64Counter("operations_submitted")
	require.NoError(t, err)
	counter.Add(t.Context(), 3)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), "operations_submitted")
	assert.Contains(t, string(body), `service_name="stardust-api"`)
}

func TestSpansCarryTraceIDs(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	providers, err := InitializeOTel(config.TelemetryConfig{TraceExporter: "stdout", SampleRatio: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	_, span := providers.Tracer.Start(t.Context(), "operation.run")
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
}

func TestSystemMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	sm, err := NewSystemMetrics(provider.Meter("test"), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	seen := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			seen[m.Name] = true
			if m.Name == "system_process_uptime_seconds" {
				gauge, ok := m.Data.(metricdata.Gauge[float64])
				require.True(t, ok)
				require.Len(t, gauge.DataPoints, 1)
				assert.GreaterOrEqual(t, gauge.DataPoints[0].Value, 60.0)
			}
		}
	}
	for _, name := range []string{"system_goroutines", "system_memory_allocated_bytes", "system_gc_count", "system_cpu_count"} {
		assert.True(t, seen[name], name)
	}

	require.NoError(t, sm.Stop())
	rm = metricdata.ResourceMetrics{}
	require.NoError(t, reader.Collect(t.Context(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if gauge, ok := m.Data.(metricdata.Gauge[int64]); ok {
				assert.Empty(t, gauge.DataPoints, m.Name)
			}
		}
	}
}

func TestSystemMetrics_NilMeter(t *testing.T) {
	sm, err := NewSystemMetrics(nil, time.Now())
	require.NoError(t, err)
	assert.NoError(t, sm.Stop())
}
