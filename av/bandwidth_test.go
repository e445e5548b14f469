package av

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioBandwidth(t *testing.T) {
	tests := []struct {
		name     string
		bitrate  int
		fpp      int
		expected int
	}{
		{"10ms packets", 40000, 1, 40000 + 48*800},
		{"20ms packets", 40000, 2, 40000 + 49*400},
		{"40ms packets", 40000, 4, 40000 + 51*200},
		{"60ms packets truncate packet rate", 40000, 6, 40000 + 53*133},
		{"zero packing treated as one frame", 8000, 0, 8000 + 48*800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AudioBandwidth(tt.bitrate, tt.fpp))
		})
	}
}

func TestAdjustBandwidth(t *testing.T) {
	tests := []struct {
		name        string
		bitrate     int
		fpp         int
		max         int
		wantBitrate int
		wantFPP     int
	}{
		{"unconstrained returns inputs", 40000, 1, Unconstrained, 40000, 1},
		{"unconstrained keeps low bitrate", 6000, 1, Unconstrained, 6000, 1},
		{"fits unchanged", 40000, 2, 100000, 40000, 2},
		{"low ceiling widens to 4 then steps down", 40000, 1, 32000, 21000, 4},
		{"mid ceiling widens 1 to 2", 40000, 1, 64000, 40000, 2},
		{"tight ceiling widens 2 to 4", 40000, 2, 48000, 37000, 4},
		{"60ms packing is never widened", 40000, 6, 30000, 22000, 6},
		{"floor enforced when still over budget", 40000, 1, 10000, MinBitrate, 4},
		{"floor enforced when bitrate fits", 6000, 4, 100000, MinBitrate, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bitrate, fpp := AdjustBandwidth(tt.bitrate, tt.fpp, tt.max)
			assert.Equal(t, tt.wantBitrate, bitrate)
			assert.Equal(t, tt.wantFPP, fpp)
			if tt.max != Unconstrained && bitrate < tt.bitrate && bitrate > MinBitrate {
				assert.LessOrEqual(t, AudioBandwidth(bitrate, fpp), tt.max)
				assert.Greater(t, AudioBandwidth(bitrate+BitrateStep, fpp), tt.max)
			}
		})
	}
}

func TestBandwidthController(t *testing.T) {
	c := NewBandwidthController(40000, 1)
	assert.Equal(t, BandwidthBudget{MaxBandwidth: Unconstrained, Bitrate: 40000, FramesPerPacket: 1}, c.Budget())

	budget, changed := c.SetMaxBandwidth(32000)
	assert.True(t, changed)
	assert.Equal(t, 21000, budget.Bitrate)
	assert.Equal(t, 4, budget.FramesPerPacket)
	assert.Equal(t, 31200, budget.Bandwidth())

	_, changed = c.SetMaxBandwidth(32000)
	assert.False(t, changed, "same ceiling must not report a change")

	// budgets derive from the configured targets, not the previous budget
	budget, changed = c.SetMaxBandwidth(Unconstrained)
	assert.True(t, changed)
	assert.Equal(t, 40000, budget.Bitrate)
	assert.Equal(t, 1, budget.FramesPerPacket)
	assert.Equal(t, Unconstrained, budget.MaxBandwidth)
}
