package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerResource_DeviceID(t *testing.T) {
	t.Parallel()

	cfg := &tracerProviderConfig{serviceName: "fieldsync", serviceVersion: "1.2.3"}
	WithTracerDeviceID("tablet-0042")(cfg)

	res, err := newTracerResource(context.Background(), cfg)
	require.NoError(t, err)

	id, ok := res.Set().Value(semconv.ServiceInstanceIDKey)
	require.True(t, ok)
	assert.Equal(t, "tablet-0042", id.AsString())

	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "fieldsync", name.AsString())
}

func TestNewTracerResource_NoDeviceID(t *testing.T) {
	t.Parallel()

	res, err := newTracerResource(context.Background(), &tracerProviderConfig{serviceName: "fieldsync"})
	require.NoError(t, err)

	_, ok := res.Set().Value(semconv.ServiceInstanceIDKey)
	assert.False(t, ok)
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	t.Parallel()

	tp, err := NewTracerProvider(context.Background(), WithTracerDeviceID("tablet-0042"))
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, tp)
}
