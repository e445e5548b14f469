package av

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// InputMode decides, frame by frame, whether captured audio is transmitted.
type InputMode interface {
	ShouldTransmit(frame []int16) bool
}

// ContinuousMode transmits every frame.
type ContinuousMode struct{}

// ShouldTransmit always returns true.
func (ContinuousMode) ShouldTransmit([]int16) bool { return true }

// PushToTalkMode transmits while the talk key is held or toggled on.
type PushToTalkMode struct {
	pressed atomic.Bool
}

// NewPushToTalkMode creates a push-to-talk mode with the key released.
func NewPushToTalkMode() *PushToTalkMode {
	return &PushToTalkMode{}
}

// ShouldTransmit reports whether the key is down.
func (p *PushToTalkMode) ShouldTransmit([]int16) bool { return p.pressed.Load() }

// SetPressed sets the key state.
func (p *PushToTalkMode) SetPressed(pressed bool) { p.pressed.Store(pressed) }

// Toggle flips the key state and returns the new state.
func (p *PushToTalkMode) Toggle() bool {
	for {
		old := p.pressed.Load()
		if p.pressed.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// VoiceActivityMode transmits while the frame level exceeds a threshold and
// for a hold time after it drops below.
//
// Level is the frame RMS in dBFS mapped linearly onto 0.0 (-60 dBFS or
// quieter) to 1.0 (0 dBFS).
type VoiceActivityMode struct {
	mu        sync.Mutex
	threshold float64
	hold      int // frames
	remaining int
}

// NewVoiceActivityMode creates a voice activity detector.
func NewVoiceActivityMode(threshold float64, hold time.Duration) (*VoiceActivityMode, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("voice activity threshold must be between 0.0 and 1.0: %f", threshold)
	}
	if hold < 0 {
		return nil, fmt.Errorf("negative voice hold time: %s", hold)
	}
	return &VoiceActivityMode{threshold: threshold, hold: int(hold / FrameDuration)}, nil
}

// FrameLevel returns the normalized level of a frame.
func FrameLevel(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	return math.Max(0, math.Min(1, (db+60)/60))
}

// ShouldTransmit updates the detector with one frame.
func (v *VoiceActivityMode) ShouldTransmit(frame []int16) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if FrameLevel(frame) >= v.threshold {
		v.remaining = v.hold
		return true
	}
	if v.remaining > 0 {
		v.remaining--
		return true
	}
	return false
}

// SetThreshold changes the activation threshold.
func (v *VoiceActivityMode) SetThreshold(threshold float64) {
	v.mu.Lock()
	v.threshold = math.Max(0, math.Min(1, threshold))
	v.mu.Unlock()
}
