package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestTurnInstruments_Record(t *testing.T) {
	restoreGlobals(t)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	inst, err := NewTurnInstruments()
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordTurn(ctx, "ok", 2*time.Second)
	inst.RecordTurn(ctx, "ok", time.Second)
	inst.RecordTurn(ctx, "truncated", time.Second)
	inst.RecordRetrieval(ctx, "episodic", nil, 20*time.Millisecond)
	inst.RecordRetrieval(ctx, "knowledge", errors.New("embedding unavailable"), 5*time.Millisecond)

	data := collect(t, reader)

	turns, ok := data["moechat.turn.total"].(metricdata.Sum[int64])
	require.True(t, ok)
	byStatus := map[string]int64{}
	for _, dp := range turns.DataPoints {
		status, _ := dp.Attributes.Value("status")
		byStatus[status.AsString()] = dp.Value
	}
	assert.Equal(t, int64(2), byStatus["ok"])
	assert.Equal(t, int64(1), byStatus["truncated"])

	dur, ok := data["moechat.turn.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range dur.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	retrieval, ok := data["moechat.retrieval.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, retrieval.DataPoints, 2)
}

func TestTurnInstruments_NilSafe(t *testing.T) {
	var inst *TurnInstruments
	assert.NotPanics(t, func() {
		inst.RecordTurn(context.Background(), "ok", time.Second)
		inst.RecordRetrieval(context.Background(), "episodic", nil, time.Millisecond)
	})
}
