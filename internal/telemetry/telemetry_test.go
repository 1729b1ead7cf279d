package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/ctxkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// restoreGlobals 测试结束后恢复全局 provider
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TelemetryConfig
		char    string
		enabled bool
	}{
		{"disabled stays noop", config.TelemetryConfig{}, "小白", false},
		{"enabled with character", config.TelemetryConfig{Enabled: true, OTLPEndpoint: "localhost:4317", ServiceName: "moechat-test", SampleRate: 0.5}, "小白", true},
		{"enabled default service name", config.TelemetryConfig{Enabled: true, OTLPEndpoint: "localhost:4317", SampleRate: 1}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreGlobals(t)
			p, err := Init(tt.cfg, tt.char, zaptest.NewLogger(t))
			require.NoError(t, err)
			require.NotNil(t, p)
			// 没有 collector 时导出会失败，只要求在期限内返回
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = p.Shutdown(ctx)
			})

			if !tt.enabled {
				assert.Nil(t, p.tp)
				assert.Nil(t, p.mp)
				assert.NoError(t, p.Shutdown(context.Background()))
				return
			}
			_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
			_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
			assert.True(t, tpIsSDK)
			assert.True(t, mpIsSDK)
		})
	}
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

// 测试二进制的构建信息是 (devel)
func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", buildVersion())
}

func TestStartSpan_RecordsErrorStatus(t *testing.T) {
	restoreGlobals(t)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "orchestrator.chat", attribute.String("session_id", "s1"))
	EndSpan(span, nil)

	_, failed := StartSpan(context.Background(), "tts.synthesize")
	EndSpan(failed, assert.AnError)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "orchestrator.chat", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, "tts.synthesize", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestStartSpan_CarriesContextIDs(t *testing.T) {
	restoreGlobals(t)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := ctxkeys.WithRequestID(context.Background(), "req-1")
	ctx = ctxkeys.WithSessionID(ctx, "default")
	ctx = ctxkeys.WithTurnID(ctx, "turn-1")

	_, span := StartSpan(ctx, "orchestrator.chat")
	EndSpan(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	got := map[string]string{}
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "req-1", got[AttrRequestID])
	assert.Equal(t, "default", got[AttrSessionID])
	assert.Equal(t, "turn-1", got[AttrTurnID])
}

func TestContextAttributes_OnlyPresentIDs(t *testing.T) {
	assert.Empty(t, ContextAttributes(context.Background()))

	ctx := ctxkeys.WithSessionID(context.Background(), "default")
	assert.Equal(t, []attribute.KeyValue{attribute.String(AttrSessionID, "default")}, ContextAttributes(ctx))
}
