package audio

import "sync/atomic"

// Mixer sums per-speaker PCM into one output buffer and applies the output
// gain. Mix must be called from a single goroutine; the gain and mute
// controls may be changed from any goroutine.
type Mixer struct {
	gain  *AtomicGain
	muted atomic.Bool
	acc   []int64
}

// NewMixer creates a mixer with the given output gain, clamped to
// [MinGain, MaxGain].
func NewMixer(gain float64) *Mixer {
	return &Mixer{gain: NewAtomicGain(gain)}
}

// SetGain updates the output gain and returns the clamped value.
func (m *Mixer) SetGain(gain float64) float64 {
	return m.gain.Set(gain)
}

// Gain returns the current output gain.
func (m *Mixer) Gain() float64 {
	return m.gain.Get()
}

// SetMuted silences mixer output while still reporting audio as present.
// Half-duplex operation mutes playback while the local user transmits.
func (m *Mixer) SetMuted(muted bool) {
	m.muted.Store(muted)
}

// Muted reports whether output is muted.
func (m *Mixer) Muted() bool {
	return m.muted.Load()
}

// Mix writes the clamped sum of sources into dst and applies the output
// gain. It returns false without touching dst when there are no sources.
// Sources shorter than dst contribute silence for the remainder.
func (m *Mixer) Mix(dst []int16, sources [][]int16) bool {
	if len(sources) == 0 {
		return false
	}
	if m.muted.Load() {
		clear(dst)
		return true
	}

	if cap(m.acc) < len(dst) {
		m.acc = make([]int64, len(dst))
	}
	acc := m.acc[:len(dst)]
	clear(acc)

	for _, src := range sources {
		n := min(len(src), len(acc))
		for i := 0; i < n; i++ {
			acc[i] += int64(src[i])
		}
	}
	for i, v := range acc {
		dst[i] = ClampSample(v)
	}

	ApplyGain(dst, m.gain.Get())
	return true
}
