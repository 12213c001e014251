package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/JakeFAU/jira-issue-crawler/internal/config"
)

func restoreNoopProvider(t *testing.T) {
	t.Helper()
	otel.SetTracerProvider(noop.NewTracerProvider())
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	restoreNoopProvider(t)
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), ServiceName, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := Tracer().Start(context.Background(), "crawl.run")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "crawl.run", spans[0].Name())
	assert.Equal(t, instrumentationName, spans[0].InstrumentationScope().Name)

	var service string
	for _, kv := range spans[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, ServiceName, service)
}

func TestSetupDisabledKeepsNoopProvider(t *testing.T) {
	restoreNoopProvider(t)

	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.IsType(t, noop.TracerProvider{}, otel.GetTracerProvider())
}

func TestSetupInstallsSDKProvider(t *testing.T) {
	restoreNoopProvider(t)

	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Enabled:     true,
		Exporter:    config.ExporterNone,
		SampleRatio: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	_, span := Tracer().Start(context.Background(), "crawl.run")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestSetupZeroRatioDropsRootSpans(t *testing.T) {
	restoreNoopProvider(t)

	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Exporter: config.ExporterNone})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := Tracer().Start(context.Background(), "crawl.run")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestSetupOTLPExporter(t *testing.T) {
	restoreNoopProvider(t)

	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Enabled:     true,
		Exporter:    config.ExporterOTLP,
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
		SampleRatio: 1,
	})
	require.NoError(t, err)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}

func TestSetupUnknownExporter(t *testing.T) {
	restoreNoopProvider(t)

	_, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Exporter: "zipkin"})
	require.ErrorContains(t, err, "zipkin")
	assert.IsType(t, noop.TracerProvider{}, otel.GetTracerProvider())
}
