package audio

import (
	"fmt"
	"math"
)

// AutoGainConfig tunes the automatic gain control.
type AutoGainConfig struct {
	TargetLevel float64 // target peak level, 0.0 to 1.0 of full scale
	AttackRate  float64 // gain increase per sample
	ReleaseRate float64 // gain decrease per sample
	MinGain     float64
	MaxGain     float64
}

// DefaultAutoGainConfig returns settings tuned for speech.
func DefaultAutoGainConfig() AutoGainConfig {
	return AutoGainConfig{
		TargetLevel: 0.3,
		AttackRate:  0.001,
		ReleaseRate: 0.0001,
		MinGain:     0.1,
		MaxGain:     4.0,
	}
}

// AutoGainEffect follows the smoothed signal peak and steers gain toward
// the target level.
//
// Peak tracking rises quickly and decays slowly; gain moves at most
// AttackRate or ReleaseRate per processed sample.
type AutoGainEffect struct {
	config      AutoGainConfig
	currentGain float64
	peakLevel   float64
}

// NewAutoGainEffect creates an AGC stage.
func NewAutoGainEffect(config AutoGainConfig) (*AutoGainEffect, error) {
	if config.TargetLevel <= 0 || config.TargetLevel > 1 {
		return nil, fmt.Errorf("target level must be in (0, 1]: %f", config.TargetLevel)
	}
	if config.MinGain <= 0 || config.MaxGain < config.MinGain {
		return nil, fmt.Errorf("invalid gain range [%f, %f]", config.MinGain, config.MaxGain)
	}
	return &AutoGainEffect{config: config, currentGain: 1.0}, nil
}

// Process applies the current gain in place.
func (a *AutoGainEffect) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}

	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s) / 32768.0); v > peak {
			peak = v
		}
	}
	if peak > a.peakLevel {
		a.peakLevel += (peak - a.peakLevel) * 0.1
	} else {
		a.peakLevel += (peak - a.peakLevel) * 0.01
	}

	desired := a.config.MaxGain
	if a.peakLevel > 0.001 {
		desired = a.config.TargetLevel / a.peakLevel
	}
	desired = math.Max(a.config.MinGain, math.Min(a.config.MaxGain, desired))

	n := float64(len(samples))
	if desired > a.currentGain {
		a.currentGain = math.Min(desired, a.currentGain+a.config.AttackRate*n)
	} else {
		a.currentGain = math.Max(desired, a.currentGain-a.config.ReleaseRate*n)
	}

	ApplyGain(samples, a.currentGain)
	return samples, nil
}

// GetName returns the effect name for debugging and logging.
func (a *AutoGainEffect) GetName() string {
	return fmt.Sprintf("AutoGain(%.2f)", a.currentGain)
}

// GetCurrentGain returns the gain applied to the last frame.
func (a *AutoGainEffect) GetCurrentGain() float64 {
	return a.currentGain
}

// Close is a no-op.
func (a *AutoGainEffect) Close() error {
	return nil
}
