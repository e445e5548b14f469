package audio

import (
	"fmt"
	"math"
	"sync/atomic"
)

const (
	// MinGain is the smallest gain multiplier accepted anywhere in the pipeline.
	MinGain = 0.1
	// MaxGain is the largest gain multiplier accepted anywhere in the pipeline.
	MaxGain = 5.0
)

// ClampGain limits a requested gain multiplier to [MinGain, MaxGain].
// NaN is treated as unity gain.
func ClampGain(gain float64) float64 {
	switch {
	case math.IsNaN(gain):
		return 1.0
	case gain < MinGain:
		return MinGain
	case gain > MaxGain:
		return MaxGain
	}
	return gain
}

// ClampSample saturates an accumulated value to the signed 16-bit range.
func ClampSample(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ApplyGain scales samples in place. Products outside the 16-bit range are
// clipped; in-range products are truncated toward zero.
func ApplyGain(samples []int16, gain float64) {
	if gain == 1.0 {
		return
	}
	for i, s := range samples {
		v := float64(s) * gain
		switch {
		case v > math.MaxInt16:
			samples[i] = math.MaxInt16
		case v < math.MinInt16:
			samples[i] = math.MinInt16
		default:
			samples[i] = int16(v)
		}
	}
}

// AtomicGain is a gain multiplier that can be changed from any goroutine
// while an audio thread reads it.
type AtomicGain struct {
	bits atomic.Uint64
}

// NewAtomicGain returns a gain initialised to the clamped value.
func NewAtomicGain(gain float64) *AtomicGain {
	g := &AtomicGain{}
	g.Set(gain)
	return g
}

// Set stores the clamped gain and returns the value actually stored.
func (g *AtomicGain) Set(gain float64) float64 {
	gain = ClampGain(gain)
	g.bits.Store(math.Float64bits(gain))
	return gain
}

// Get returns the current gain.
func (g *AtomicGain) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// GainEffect is a fixed volume adjustment with clipping protection.
type GainEffect struct {
	gain *AtomicGain
	name string
}

// NewGainEffect creates a gain effect. The gain is clamped to
// [MinGain, MaxGain].
func NewGainEffect(name string, gain float64) *GainEffect {
	return &GainEffect{gain: NewAtomicGain(gain), name: name}
}

// Process scales samples in place.
func (g *GainEffect) Process(samples []int16) ([]int16, error) {
	ApplyGain(samples, g.gain.Get())
	return samples, nil
}

// GetName returns the effect name for debugging and logging.
func (g *GainEffect) GetName() string {
	return fmt.Sprintf("%s(%.2f)", g.name, g.gain.Get())
}

// SetGain updates the gain and returns the clamped value.
func (g *GainEffect) SetGain(gain float64) float64 {
	return g.gain.Set(gain)
}

// GetGain returns the current gain multiplier.
func (g *GainEffect) GetGain() float64 {
	return g.gain.Get()
}

// Close is a no-op.
func (g *GainEffect) Close() error {
	return nil
}
