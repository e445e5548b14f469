package av

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetricsRegistersInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PacketsDispatched.Add(ctx, 3)
	m.recordDrop(ctx, DropMalformed)
	m.recordDrop(ctx, DropMalformed)
	m.recordDrop(ctx, DropFiltered)
	m.ChannelsCreated.Add(ctx, 2)
	m.ActiveSpeakers.Add(ctx, 2)
	m.recordRetire(ctx, retireExhausted)
	m.recordEncoded(ctx, sourceMicrophone)
	m.recordEncoded(ctx, sourceInjected)
	m.recordEncoded(ctx, sourceInjected)
	m.DecodeDuration.Record(ctx, 0.0004)

	assert.Equal(t, int64(3), counterValue(t, reader, "voicepipe.packets.dispatched", "", ""))
	assert.Equal(t, int64(2), counterValue(t, reader, "voicepipe.packets.dropped", "reason", DropMalformed))
	assert.Equal(t, int64(1), counterValue(t, reader, "voicepipe.packets.dropped", "reason", DropFiltered))
	assert.Equal(t, int64(1), counterValue(t, reader, "voicepipe.channels.retired", "reason", retireExhausted))
	assert.Equal(t, int64(1), counterValue(t, reader, "voicepipe.speakers.active", "", ""))
	assert.Equal(t, int64(2), counterValue(t, reader, "voicepipe.frames.encoded", "source", sourceInjected))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	var found bool
	for _, sm := range rm.ScopeMetrics {
		assert.Equal(t, meterName, sm.Scope.Name)
		for _, met := range sm.Metrics {
			if met.Name != "voicepipe.decode.duration" {
				continue
			}
			found = true
			hist, ok := met.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			require.Len(t, hist.DataPoints, 1)
			assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
		}
	}
	assert.True(t, found, "decode duration histogram not exported")
}

func TestDefaultMetricsIsShared(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	require.NotNil(t, a)
	assert.Same(t, a, b)
}
