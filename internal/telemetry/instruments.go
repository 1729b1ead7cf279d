package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// 📈 OTLP 轮次指标
// =============================================================================

// TurnInstruments 对话轮次的 OTel 指标，与 span 一起经 OTLP 导出。
// Prometheus 侧的同类指标由 metrics.Collector 负责。方法对 nil 接收者安全。
type TurnInstruments struct {
	turns     metric.Int64Counter
	duration  metric.Float64Histogram
	retrieval metric.Float64Histogram
}

// NewTurnInstruments 在全局 MeterProvider 上创建指标。遥测关闭时为 noop。
func NewTurnInstruments() (*TurnInstruments, error) {
	meter := otel.Meter(InstrumentationName)
	t := &TurnInstruments{}

	var err error
	t.turns, err = meter.Int64Counter("moechat.turn.total",
		metric.WithDescription("Total number of chat turns by outcome"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}

	t.duration, err = meter.Float64Histogram("moechat.turn.duration",
		metric.WithDescription("Chat turn duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 20, 40, 80))
	if err != nil {
		return nil, err
	}

	t.retrieval, err = meter.Float64Histogram("moechat.retrieval.duration",
		metric.WithDescription("Memory retrieval duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RecordTurn 记录一轮对话的结果与耗时
func (t *TurnInstruments) RecordTurn(ctx context.Context, status string, d time.Duration) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	t.turns.Add(ctx, 1, attrs)
	t.duration.Record(ctx, d.Seconds(), attrs)
}

// RecordRetrieval 记录一次记忆检索
func (t *TurnInstruments) RecordRetrieval(ctx context.Context, store string, err error, d time.Duration) {
	if t == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	t.retrieval.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("result", result),
	))
}
