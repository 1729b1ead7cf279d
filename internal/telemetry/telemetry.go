package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/ctxkeys"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentationName 所有 span 使用的 tracer 名
const InstrumentationName = "github.com/BaSui01/moechat"

// span 与资源属性
const (
	AttrRequestID = "moechat.request_id"
	AttrSessionID = "moechat.session_id"
	AttrTurnID    = "moechat.turn_id"
	// AttrCharacter 资源属性：当前扮演的角色，多角色部署时区分实例
	AttrCharacter = "moechat.character"
)

const defaultServiceName = "moechat"

// Providers 持有 SDK 的 TracerProvider 与 MeterProvider。未启用时两者为 nil。
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init 按配置初始化 OTLP 导出并设置全局 provider。
// 未启用时不连接任何外部服务，全局 provider 保持 noop。
func Init(cfg config.TelemetryConfig, character string, logger *zap.Logger) (*Providers, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Providers{}, nil
	}
	ctx := context.Background()

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(buildVersion()),
	}
	if character != "" {
		attrs = append(attrs, attribute.String(AttrCharacter, character))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	spans, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	points, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	p := &Providers{
		// 采样跟随上游：前端带 traceparent 时沿用其决定
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spans),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		),
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points)),
			sdkmetric.WithResource(res),
		),
	}
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Info("telemetry enabled",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service", name),
		zap.String("character", character),
		zap.Float64("sample_rate", cfg.SampleRate))
	return p, nil
}

// Shutdown 刷出未导出的 span 与指标，nil 与未启用时为空操作
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔭 Span
// =============================================================================

// StartSpan 在全局 tracer 上开启 span，并附上 ctx 中的请求、会话、轮次 ID
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, ContextAttributes(ctx)...)
	return otel.Tracer(InstrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// ContextAttributes ctx 中已有的 ID
func ContextAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, id := range []struct {
		key    string
		lookup func(context.Context) (string, bool)
	}{
		{AttrRequestID, ctxkeys.RequestID},
		{AttrSessionID, ctxkeys.SessionID},
		{AttrTurnID, ctxkeys.TurnID},
	} {
		if v, ok := id.lookup(ctx); ok {
			attrs = append(attrs, attribute.String(id.key, v))
		}
	}
	return attrs
}

// EndSpan 记录错误（如有）并结束 span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// buildVersion 来自构建信息，本地构建为 "dev"
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
