package av

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all voice pipeline metrics.
const meterName = "github.com/opd-ai/voicepipe/av"

// Drop reasons recorded on PacketsDropped.
const (
	DropMalformed   = "malformed"
	DropFiltered    = "filtered"
	DropDecoderInit = "decoder_init"
	DropLate        = "late"
	DropNotPlaying  = "not_playing"
)

// Metrics holds the OpenTelemetry instruments for the voice pipeline. All
// fields are safe for concurrent use.
type Metrics struct {
	// PacketsDispatched counts inbound packets accepted into a jitter buffer.
	PacketsDispatched metric.Int64Counter
	// PacketsDropped counts inbound packets discarded, by "reason".
	PacketsDropped metric.Int64Counter
	// ChannelsCreated counts speaker channels created.
	ChannelsCreated metric.Int64Counter
	// ChannelsRetired counts speaker channels destroyed, by "reason".
	ChannelsRetired metric.Int64Counter
	// ActiveSpeakers tracks live speaker channels.
	ActiveSpeakers metric.Int64UpDownCounter
	// ConcealedFrames counts frames synthesized for lost packets.
	ConcealedFrames metric.Int64Counter
	// MixTicks counts playback ticks that produced audio.
	MixTicks metric.Int64Counter
	// SchedulerPauses counts transitions into the paused sub-state.
	SchedulerPauses metric.Int64Counter
	// FramesEncoded counts 10ms frames handed to the encoder, by "source".
	FramesEncoded metric.Int64Counter
	// PacketsSent counts outbound voice packets.
	PacketsSent metric.Int64Counter
	// BandwidthAdjustments counts encoder budget changes.
	BandwidthAdjustments metric.Int64Counter
	// DecodeDuration tracks the wall time of one parallel decode phase.
	DecodeDuration metric.Float64Histogram
}

var decodeBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025,
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.PacketsDispatched, "voicepipe.packets.dispatched", "Inbound voice packets accepted."},
		{&met.PacketsDropped, "voicepipe.packets.dropped", "Inbound voice packets dropped by reason."},
		{&met.ChannelsCreated, "voicepipe.channels.created", "Speaker channels created."},
		{&met.ChannelsRetired, "voicepipe.channels.retired", "Speaker channels retired by reason."},
		{&met.ConcealedFrames, "voicepipe.frames.concealed", "Frames synthesized for lost audio."},
		{&met.MixTicks, "voicepipe.mix.ticks", "Playback ticks that produced audio."},
		{&met.SchedulerPauses, "voicepipe.scheduler.pauses", "Playback pauses for lack of audio."},
		{&met.FramesEncoded, "voicepipe.frames.encoded", "Frames handed to the encoder by source."},
		{&met.PacketsSent, "voicepipe.packets.sent", "Outbound voice packets."},
		{&met.BandwidthAdjustments, "voicepipe.bandwidth.adjustments", "Encoder bandwidth budget changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSpeakers, err = m.Int64UpDownCounter("voicepipe.speakers.active",
		metric.WithDescription("Live speaker channels."),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("voicepipe.decode.duration",
		metric.WithDescription("Wall time of one parallel decode phase."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(decodeBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments registered on the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("av: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) recordDrop(ctx context.Context, reason string) {
	m.PacketsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) recordRetire(ctx context.Context, reason string) {
	m.ChannelsRetired.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.ActiveSpeakers.Add(ctx, -1)
}

func (m *Metrics) recordEncoded(ctx context.Context, source string) {
	m.FramesEncoded.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
