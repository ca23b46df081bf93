package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "disabled ignores bad sampling", config: &Config{Tracing: &TracingConfig{Enabled: true, Sampling: 5}}},
		{name: "valid sampling", config: &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 0.5}}},
		{name: "sampling above one", config: &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 1.5}}, wantErr: true},
		{name: "negative sampling", config: &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: -1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.False(t, cfg.MetricsEnabled())
	assert.False(t, cfg.TracingEnabled())
	assert.InDelta(t, DefaultSampling, (&TracingConfig{}).GetSampling(), 0.0001)

	// sub-sections need the global switch
	cfg.Metrics = &MetricsConfig{Enabled: true}
	assert.False(t, cfg.MetricsEnabled())
	cfg.Enabled = true
	assert.True(t, cfg.MetricsEnabled())
}

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	tel, err := New(context.Background())
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	assert.IsType(t, noop.MeterProvider{}, tel.MeterProvider())
	assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
	assert.Nil(t, tel.MetricsHandler())
	assert.NotNil(t, tel.Tracer("test"))
}

func TestNew_MetricsServedForPrometheus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tel, err := New(ctx, WithTelemetryConfig(&Config{
		Enabled: true,
		Metrics: &MetricsConfig{Enabled: true},
	}))
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(ctx) }()
	require.NotNil(t, tel.MetricsHandler())

	metrics, err := NewSyncMetrics(tel.MeterProvider())
	require.NoError(t, err)
	metrics.RecordSyncAttempt(ctx, "score-entries", 0, 7, true)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fieldsync_records_transferred_total")
	assert.Contains(t, string(body), `record_type="score-entries"`)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), WithTelemetryConfig(&Config{
		Enabled: true,
		Tracing: &TracingConfig{Enabled: true, Sampling: 2},
	}))
	require.Error(t, err)
}
