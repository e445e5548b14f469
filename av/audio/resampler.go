package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler converts interleaved PCM between sample rates with linear
// interpolation. State carries across calls so consecutive buffers form one
// continuous stream.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	channels   int
	step       float64 // input frames advanced per output frame
	position   float64 // next output position, 0 = last frame of previous call
	last       []int16
	primed     bool
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
	Channels   int    // Number of interleaved channels (1 or 2)
}

// NewResampler creates a resampler.
//
// Parameters:
//   - config: Resampler configuration
//
// Returns:
//   - *Resampler: New resampler instance
//   - error: Validation error for zero rates or unsupported channel counts
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", config.InputRate, config.OutputRate)
	}
	if config.Channels < 1 || config.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d (must be 1 or 2)", config.Channels)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Debug("Created audio resampler")

	return &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		channels:   config.Channels,
		step:       float64(config.InputRate) / float64(config.OutputRate),
		last:       make([]int16, config.Channels),
	}, nil
}

// Resample converts one buffer of interleaved samples.
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	if len(input) == 0 {
		return nil, nil
	}
	if len(input)%r.channels != 0 {
		return nil, fmt.Errorf("input samples (%d) not aligned to channel count (%d)", len(input), r.channels)
	}
	if r.inputRate == r.outputRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out, nil
	}

	frames := len(input) / r.channels
	if !r.primed {
		copy(r.last, input[:r.channels])
		r.position = 1
		r.primed = true
	}

	// frame i of the virtual stream: 0 is r.last, 1..frames is input
	at := func(i, ch int) float64 {
		if i == 0 {
			return float64(r.last[ch])
		}
		return float64(input[(i-1)*r.channels+ch])
	}

	out := make([]int16, 0, r.CalculateOutputSize(len(input)))
	for r.position < float64(frames) {
		idx := int(r.position)
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			v := at(idx, ch)*(1-frac) + at(idx+1, ch)*frac
			out = append(out, ClampSample(int64(v)))
		}
		r.position += r.step
	}
	r.position -= float64(frames)
	copy(r.last, input[len(input)-r.channels:])
	return out, nil
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() uint32 { return r.inputRate }

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() uint32 { return r.outputRate }

// GetChannels returns the configured number of channels.
func (r *Resampler) GetChannels() int { return r.channels }

// CalculateOutputSize estimates the output size for a given input size.
func (r *Resampler) CalculateOutputSize(inputSize int) int {
	frames := inputSize / r.channels
	outFrames := int(float64(frames)/r.step) + 1
	return outFrames * r.channels
}

// Reset forgets stream state, for use after a discontinuity.
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	clear(r.last)
}
