package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMorse(t *testing.T) {
	seq, err := Morse("-.-")
	require.NoError(t, err)

	want := []Tone{
		{Frequency: 1000, Duration: 180 * time.Millisecond},
		{Duration: 60 * time.Millisecond},
		{Frequency: 1000, Duration: 60 * time.Millisecond},
		{Duration: 60 * time.Millisecond},
		{Frequency: 1000, Duration: 180 * time.Millisecond},
	}
	assert.Equal(t, want, seq.Tones)
	assert.Equal(t, 540*48, seq.Samples())

	_, err = Morse("")
	assert.Error(t, err)
	_, err = Morse(".x")
	assert.Error(t, err)
}

func TestToneStyle(t *testing.T) {
	seq, err := ToneStyle("morse-k")
	require.NoError(t, err)
	assert.Equal(t, "morse-k", seq.Name)
	assert.Len(t, seq.Tones, 5)

	seq, err = ToneStyle("two-tone")
	require.NoError(t, err)
	assert.Equal(t, 220*48, seq.Samples())

	_, err = ToneStyle("morse-1")
	assert.Error(t, err)
	_, err = ToneStyle("siren")
	assert.Error(t, err)

	assert.Contains(t, ToneStyles(), "classic-8-tone")
}

func TestRender(t *testing.T) {
	seq := ToneSequence{Tones: []Tone{
		{Frequency: 1000, Duration: 10 * time.Millisecond},
		{Duration: 10 * time.Millisecond},
	}}
	pcm := seq.Render(1.0)
	require.Len(t, pcm, 960)

	var peak int16
	for _, s := range pcm[:480] {
		peak = max(peak, s)
	}
	assert.InDelta(t, 26213, peak, 10)
	for _, s := range pcm[480:] {
		assert.Equal(t, int16(0), s)
	}

	quiet := seq.Render(0)
	assert.Equal(t, make([]int16, 960), quiet)
}

func TestNormalize(t *testing.T) {
	out := Normalize([]int16{1474, -2949, 737}, 1.0)
	assert.Equal(t, []int16{14740, -29490, 7370}, out)

	half := Normalize([]int16{0, 2949}, 0.5)
	assert.Equal(t, int16(14745), half[1])

	assert.Equal(t, []int16{0, 0}, Normalize([]int16{0, 0}, 1.0))
}
