package audio

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestMixerClampsSum(t *testing.T) {
	m := NewMixer(1.0)
	dst := make([]int16, 3)

	ok := m.Mix(dst, [][]int16{
		{20000, -20000, 100},
		{15000, -15000, 200},
	})
	assert.True(t, ok)
	if diff := cmp.Diff([]int16{32767, -32768, 300}, dst); diff != "" {
		t.Errorf("mix mismatch (-want +got):\n%s", diff)
	}
}

func TestMixerOrderIndependent(t *testing.T) {
	a := []int16{30000, 5, -7}
	b := []int16{10000, -5, 3}
	c := []int16{-20000, 1, 1}

	m := NewMixer(1.0)
	first := make([]int16, 3)
	second := make([]int16, 3)
	m.Mix(first, [][]int16{a, b, c})
	m.Mix(second, [][]int16{c, b, a})

	// summed before clamping, so the order of sources never matters
	assert.Equal(t, []int16{20000, 1, -3}, first)
	assert.Equal(t, first, second)
}

func TestMixerNoSources(t *testing.T) {
	m := NewMixer(1.0)
	dst := []int16{7, 7}
	assert.False(t, m.Mix(dst, nil))
	assert.Equal(t, []int16{7, 7}, dst)
}

func TestMixerGain(t *testing.T) {
	m := NewMixer(1.0)
	assert.Equal(t, 5.0, m.SetGain(10))
	assert.Equal(t, 0.1, m.SetGain(0))

	m.SetGain(2.0)
	dst := make([]int16, 2)
	m.Mix(dst, [][]int16{{10000, 20000}, {1000, 0}})
	assert.Equal(t, []int16{22000, 32767}, dst)
}

func TestMixerShortSourceAndMute(t *testing.T) {
	m := NewMixer(1.0)
	dst := make([]int16, 4)
	m.Mix(dst, [][]int16{{1, 2}, {1, 1, 1, 1}})
	assert.Equal(t, []int16{2, 3, 1, 1}, dst)

	m.SetMuted(true)
	assert.True(t, m.Muted())
	assert.True(t, m.Mix(dst, [][]int16{{5, 5, 5, 5}}))
	assert.Equal(t, []int16{0, 0, 0, 0}, dst)
}
