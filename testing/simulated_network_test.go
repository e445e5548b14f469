package testing

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voicepipe/av/packet"
	"github.com/opd-ai/voicepipe/interfaces"
)

type recordingReceiver struct {
	mu      sync.Mutex
	packets []packet.VoicePacket
	err     error
}

func (r *recordingReceiver) HandleVoiceData(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	p, err := packet.ParseInbound(data)
	if err != nil {
		return err
	}
	r.packets = append(r.packets, p)
	return nil
}

func (r *recordingReceiver) sequences() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seqs []int64
	for _, p := range r.packets {
		seqs = append(seqs, p.Sequence)
	}
	return seqs
}

func outbound(t *testing.T, seq int64) []byte {
	t.Helper()
	payload, err := packet.AppendOpusFrame(nil, []byte{0xaa, 0xbb}, false)
	require.NoError(t, err)
	data, err := packet.MarshalOutbound(packet.CodecOpus, 2, seq, payload)
	require.NoError(t, err)
	return data
}

func TestSimulatedNetworkDeliversInOrder(t *testing.T) {
	rx := &recordingReceiver{}
	sim := NewSimulatedNetwork(interfaces.VoiceTransportConfig{UseSimulation: true, LoopbackSession: 9}, rx, 1)
	assert.True(t, sim.IsSimulation())

	for seq := int64(0); seq < 6; seq += 2 {
		require.NoError(t, sim.SendVoicePacket(outbound(t, seq)))
	}

	assert.Equal(t, []int64{0, 2, 4}, rx.sequences())
	for _, p := range rx.packets {
		assert.Equal(t, uint32(9), p.Session)
		assert.Equal(t, packet.CodecOpus, p.Codec)
		assert.Equal(t, uint8(2), p.Target)
	}
	assert.Equal(t, NetworkStats{Sent: 3, Delivered: 3}, sim.Stats())
}

func TestSimulatedNetworkDropsEverything(t *testing.T) {
	rx := &recordingReceiver{}
	sim := NewSimulatedNetwork(interfaces.VoiceTransportConfig{DropRate: 1}, rx, 1)

	for seq := int64(0); seq < 4; seq++ {
		require.NoError(t, sim.SendVoicePacket(outbound(t, seq)))
	}
	assert.Empty(t, rx.sequences())
	assert.Equal(t, NetworkStats{Sent: 4, Dropped: 4}, sim.Stats())
}

func TestSimulatedNetworkReorders(t *testing.T) {
	rx := &recordingReceiver{}
	sim := NewSimulatedNetwork(interfaces.VoiceTransportConfig{ReorderRate: 1}, rx, 1)

	for seq := int64(0); seq < 3; seq++ {
		require.NoError(t, sim.SendVoicePacket(outbound(t, seq)))
	}
	// 0 is held and follows 1; 2 is held until flushed
	assert.Equal(t, []int64{1, 0}, rx.sequences())

	sim.Flush()
	assert.Equal(t, []int64{1, 0, 2}, rx.sequences())

	log := sim.DeliveryLog()
	require.Len(t, log, 3)
	assert.Equal(t, Delivered, log[0].Outcome)
	assert.Equal(t, Reordered, log[1].Outcome)
	assert.Equal(t, int64(0), log[1].Sequence)
	assert.Equal(t, Reordered, log[2].Outcome)

	sim.Flush()
	assert.Len(t, sim.DeliveryLog(), 3, "nothing left to flush")
}

func TestSimulatedNetworkRecordsReceiverErrors(t *testing.T) {
	rx := &recordingReceiver{err: errors.New("speaker muted")}
	sim := NewSimulatedNetwork(interfaces.VoiceTransportConfig{}, rx, 1)

	require.NoError(t, sim.SendVoicePacket(outbound(t, 0)))
	log := sim.DeliveryLog()
	require.Len(t, log, 1)
	assert.Equal(t, Rejected, log[0].Outcome)
	assert.EqualError(t, log[0].Error, "speaker muted")

	sim.ClearDeliveryLog()
	assert.Empty(t, sim.DeliveryLog())
}

func TestSimulatedNetworkRejectsMalformed(t *testing.T) {
	sim := NewSimulatedNetwork(interfaces.VoiceTransportConfig{}, &recordingReceiver{}, 1)
	assert.Error(t, sim.SendVoicePacket(nil))
	assert.Empty(t, sim.DeliveryLog())
}

func TestSimulatedNetworkSeedIsReproducible(t *testing.T) {
	run := func() []int64 {
		rx := &recordingReceiver{}
		sim := NewSimulatedNetwork(interfaces.VoiceTransportConfig{DropRate: 0.3, ReorderRate: 0.2}, rx, 42)
		for seq := int64(0); seq < 50; seq++ {
			require.NoError(t, sim.SendVoicePacket(outbound(t, seq)))
		}
		sim.Flush()
		return rx.sequences()
	}
	assert.Equal(t, run(), run())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "dropped", Dropped.String())
	assert.Equal(t, "reordered", Reordered.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "unknown", Outcome(9).String())
}
