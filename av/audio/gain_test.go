package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampGain(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"too high", 10.0, 5.0},
		{"zero", 0.0, 0.1},
		{"negative", -3, 0.1},
		{"unity", 1.0, 1.0},
		{"in range", 2.5, 2.5},
		{"nan", math.NaN(), 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampGain(tt.in))
		})
	}
}

func TestApplyGain(t *testing.T) {
	tests := []struct {
		name     string
		gain     float64
		input    []int16
		expected []int16
	}{
		{"unity", 1.0, []int16{1000, -1000}, []int16{1000, -1000}},
		{"double", 2.0, []int16{1000, -1000}, []int16{2000, -2000}},
		{"clip positive", 2.0, []int16{20000}, []int16{32767}},
		{"clip negative", 2.0, []int16{-20000}, []int16{-32768}},
		{"truncate toward zero", 0.5, []int16{3, -3}, []int16{1, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := append([]int16(nil), tt.input...)
			ApplyGain(samples, tt.gain)
			assert.Equal(t, tt.expected, samples)
		})
	}
}

func TestGainEffect(t *testing.T) {
	g := NewGainEffect("input", 10)
	assert.Equal(t, 5.0, g.GetGain())
	assert.Equal(t, 0.1, g.SetGain(0))

	g.SetGain(2)
	out, err := g.Process([]int16{100})
	assert.NoError(t, err)
	assert.Equal(t, []int16{200}, out)
	assert.Equal(t, "input(2.00)", g.GetName())
	assert.NoError(t, g.Close())
}

func TestEffectChain(t *testing.T) {
	chain := NewEffectChain(NewGainEffect("a", 2))
	chain.AddEffect(NewGainEffect("b", 3))
	chain.AddEffect(nil)

	assert.Equal(t, 2, chain.GetEffectCount())
	assert.Equal(t, []string{"a(2.00)", "b(3.00)"}, chain.GetEffectNames())

	out, err := chain.Process([]int16{10, -10})
	assert.NoError(t, err)
	assert.Equal(t, []int16{60, -60}, out)

	assert.NoError(t, chain.Close())
	assert.Equal(t, 0, chain.GetEffectCount())
}

func TestAutoGainEffect(t *testing.T) {
	_, err := NewAutoGainEffect(AutoGainConfig{TargetLevel: 0})
	assert.Error(t, err)

	agc, err := NewAutoGainEffect(DefaultAutoGainConfig())
	assert.NoError(t, err)

	// a quiet steady signal is raised over time
	for i := 0; i < 50; i++ {
		frame := make([]int16, 480)
		for j := range frame {
			frame[j] = 1000
		}
		_, err := agc.Process(frame)
		assert.NoError(t, err)
	}
	assert.Greater(t, agc.GetCurrentGain(), 1.0)
	assert.LessOrEqual(t, agc.GetCurrentGain(), 4.0)

	out, err := agc.Process(nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
}
