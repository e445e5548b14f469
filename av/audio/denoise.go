package audio

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// noiseLearningFrames is how many analysis frames seed the noise estimate.
const noiseLearningFrames = 10

// NoiseSuppressionEffect reduces stationary background noise with spectral
// subtraction.
//
// Samples are analysed in windows of frameSize with 50% overlap using a
// square-root Hann window on both analysis and synthesis, so the unmodified
// signal reconstructs exactly. Processing is streaming: any input length is
// accepted and the output has the same length, delayed by frameSize samples.
type NoiseSuppressionEffect struct {
	suppressionLevel float64
	frameSize        int
	hop              int
	window           []float64
	frame            []float64 // last frameSize input samples
	fill             int       // new samples since the last analysis
	ola              []float64 // overlap-add accumulator
	out              []float64 // finished samples not yet returned
	noiseFloor       []float64
	magnitude        []float64
	spectrum         []complex128
	learned          int
}

// NewNoiseSuppressionEffect creates a noise suppressor.
//
// Parameters:
//   - suppressionLevel: 0.0 (pass-through) to 1.0 (strongest)
//   - frameSize: FFT size, a power of 2 between 64 and 4096
func NewNoiseSuppressionEffect(suppressionLevel float64, frameSize int) (*NoiseSuppressionEffect, error) {
	if suppressionLevel < 0.0 || suppressionLevel > 1.0 {
		return nil, fmt.Errorf("suppression level must be between 0.0 and 1.0: %f", suppressionLevel)
	}
	if frameSize < 64 || frameSize > 4096 || frameSize&(frameSize-1) != 0 {
		return nil, fmt.Errorf("frame size must be power of 2 between 64 and 4096: %d", frameSize)
	}

	window := make([]float64, frameSize)
	for i := range window {
		window[i] = math.Sqrt(0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(frameSize))))
	}

	hop := frameSize / 2
	logrus.WithFields(logrus.Fields{
		"function":          "NewNoiseSuppressionEffect",
		"suppression_level": suppressionLevel,
		"frame_size":        frameSize,
	}).Debug("Created noise suppression effect")

	return &NoiseSuppressionEffect{
		suppressionLevel: suppressionLevel,
		frameSize:        frameSize,
		hop:              hop,
		window:           window,
		frame:            make([]float64, frameSize),
		ola:              make([]float64, frameSize),
		out:              make([]float64, hop, 4*frameSize),
		noiseFloor:       make([]float64, frameSize/2+1),
		magnitude:        make([]float64, frameSize/2+1),
		spectrum:         make([]complex128, frameSize),
	}, nil
}

// Process suppresses noise in place.
func (ns *NoiseSuppressionEffect) Process(samples []int16) ([]int16, error) {
	for _, s := range samples {
		ns.frame[ns.frameSize-ns.hop+ns.fill] = float64(s)
		ns.fill++
		if ns.fill == ns.hop {
			ns.analyse()
			ns.fill = 0
		}
	}

	for i := range samples {
		samples[i] = ClampSample(int64(math.Round(ns.out[i])))
	}
	n := copy(ns.out, ns.out[len(samples):])
	ns.out = ns.out[:n]
	return samples, nil
}

// analyse runs one overlap-add step over the current frame and appends hop
// finished samples to the output queue.
func (ns *NoiseSuppressionEffect) analyse() {
	for i, v := range ns.frame {
		ns.spectrum[i] = complex(v*ns.window[i], 0)
	}
	fft(ns.spectrum)

	for i := range ns.magnitude {
		re, im := real(ns.spectrum[i]), imag(ns.spectrum[i])
		ns.magnitude[i] = math.Sqrt(re*re + im*im)
	}
	ns.updateNoiseFloor()
	if ns.learned >= noiseLearningFrames && ns.suppressionLevel > 0 {
		ns.subtract()
	}

	ifft(ns.spectrum)
	for i := range ns.ola {
		ns.ola[i] += real(ns.spectrum[i]) * ns.window[i]
	}

	ns.out = append(ns.out, ns.ola[:ns.hop]...)
	copy(ns.ola, ns.ola[ns.hop:])
	clear(ns.ola[ns.frameSize-ns.hop:])
	copy(ns.frame, ns.frame[ns.hop:])
}

// updateNoiseFloor averages the first frames, then follows quieter frames
// slowly so the estimate tracks changing background noise.
func (ns *NoiseSuppressionEffect) updateNoiseFloor() {
	if ns.learned < noiseLearningFrames {
		for i, m := range ns.magnitude {
			if ns.learned == 0 {
				ns.noiseFloor[i] = m
			} else {
				ns.noiseFloor[i] = 0.8*ns.noiseFloor[i] + 0.2*m
			}
		}
		ns.learned++
		return
	}
	for i, m := range ns.magnitude {
		if m < ns.noiseFloor[i] {
			ns.noiseFloor[i] = 0.9*ns.noiseFloor[i] + 0.1*m
		} else if m < 2*ns.noiseFloor[i] {
			ns.noiseFloor[i] = 0.995*ns.noiseFloor[i] + 0.005*m
		}
	}
}

// subtract applies over-subtraction with a spectral floor to both halves of
// the spectrum.
func (ns *NoiseSuppressionEffect) subtract() {
	const overSubtraction = 2.0
	half := ns.frameSize / 2
	for i, m := range ns.magnitude {
		if m == 0 {
			continue
		}
		reduced := math.Max(m-overSubtraction*ns.suppressionLevel*ns.noiseFloor[i], 0.1*m)
		ratio := complex(reduced/m, 0)
		ns.spectrum[i] *= ratio
		if i > 0 && i < half {
			ns.spectrum[ns.frameSize-i] *= ratio
		}
	}
}

// GetName returns the effect name for debugging and logging.
func (ns *NoiseSuppressionEffect) GetName() string {
	return fmt.Sprintf("NoiseSuppression(%.2f)", ns.suppressionLevel)
}

// Latency returns the delay the effect adds, in samples.
func (ns *NoiseSuppressionEffect) Latency() int {
	return ns.frameSize
}

// Close is a no-op.
func (ns *NoiseSuppressionEffect) Close() error {
	return nil
}

// fft is an in-place radix-2 Cooley-Tukey transform; len(data) must be a
// power of 2.
func fft(data []complex128) {
	n := len(data)
	if n <= 1 {
		return
	}

	for i, j := 0, 0; i < n; i++ {
		if j > i {
			data[i], data[j] = data[j], data[i]
		}
		bit := n >> 1
		for j&bit != 0 {
			j ^= bit
			bit >>= 1
		}
		j ^= bit
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := 2 * math.Pi / float64(size)
		for i := 0; i < n; i += size {
			for j := 0; j < half; j++ {
				u := data[i+j]
				v := data[i+j+half] * complex(math.Cos(float64(j)*step), -math.Sin(float64(j)*step))
				data[i+j] = u + v
				data[i+j+half] = u - v
			}
		}
	}
}

// ifft inverts fft using the conjugate trick.
func ifft(data []complex128) {
	for i, v := range data {
		data[i] = complex(real(v), -imag(v))
	}
	fft(data)
	scale := 1.0 / float64(len(data))
	for i, v := range data {
		data[i] = complex(real(v)*scale, -imag(v)*scale)
	}
}
