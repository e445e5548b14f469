package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResamplerValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  ResamplerConfig
		wantErr bool
	}{
		{"valid mono", ResamplerConfig{InputRate: 16000, OutputRate: 48000, Channels: 1}, false},
		{"valid stereo", ResamplerConfig{InputRate: 44100, OutputRate: 48000, Channels: 2}, false},
		{"zero input rate", ResamplerConfig{InputRate: 0, OutputRate: 48000, Channels: 1}, true},
		{"zero output rate", ResamplerConfig{InputRate: 48000, OutputRate: 0, Channels: 1}, true},
		{"too many channels", ResamplerConfig{InputRate: 48000, OutputRate: 16000, Channels: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResampler(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.InputRate, r.GetInputRate())
			assert.Equal(t, tt.config.OutputRate, r.GetOutputRate())
			assert.Equal(t, tt.config.Channels, r.GetChannels())
		})
	}
}

func TestResamplerUpsampleIsContinuous(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 16000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)

	// a ramp split across calls must come out as one ramp
	var out []int16
	for block := 0; block < 4; block++ {
		in := make([]int16, 160)
		for i := range in {
			in[i] = int16((block*160 + i) * 30)
		}
		got, err := r.Resample(in)
		require.NoError(t, err)
		out = append(out, got...)
	}

	assert.InDelta(t, 3*(4*160-1), len(out), 2)
	for i := 1; i < len(out); i++ {
		diff := int(out[i]) - int(out[i-1])
		assert.True(t, diff >= 9 && diff <= 11, "step %d at %d", diff, i)
	}
}

func TestResamplerDownsample(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 16000, Channels: 1})
	require.NoError(t, err)

	in := make([]int16, 480)
	for i := range in {
		in[i] = int16(i)
	}
	out, err := r.Resample(in)
	require.NoError(t, err)
	assert.Len(t, out, 160)
	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, int16(3), out[1])
}

func TestResamplerStereoAndErrors(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 24000, OutputRate: 48000, Channels: 2})
	require.NoError(t, err)

	_, err = r.Resample([]int16{1, 2, 3})
	assert.Error(t, err)

	out, err := r.Resample([]int16{100, -100, 200, -200})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, []int16{100, -100, 150, -150}, out)

	out, err = r.Resample(nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestResamplerSameRateCopies(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)

	in := []int16{1, 2, 3}
	out, err := r.Resample(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	out[0] = 9
	assert.Equal(t, int16(1), in[0])
}

func TestFrameBuffer(t *testing.T) {
	fb := NewFrameBuffer(4)
	dst := make([]int16, 4)

	fb.Write([]int16{1, 2, 3})
	assert.False(t, fb.Next(dst))
	fb.Write([]int16{4, 5, 6, 7, 8, 9})

	assert.True(t, fb.Next(dst))
	assert.Equal(t, []int16{1, 2, 3, 4}, dst)
	assert.True(t, fb.Next(dst))
	assert.Equal(t, []int16{5, 6, 7, 8}, dst)
	assert.False(t, fb.Next(dst))
	assert.Equal(t, 1, fb.Buffered())

	fb.Reset()
	assert.Equal(t, 0, fb.Buffered())
}
