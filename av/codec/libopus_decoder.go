package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"
)

// LibopusDecoder decodes Opus through libopus at 48kHz mono and conceals
// lost frames with libopus packet loss concealment.
type LibopusDecoder struct {
	decoder *opus.Decoder
	pcm     []int16
}

// NewLibopusDecoder creates a libopus backed decoder.
func NewLibopusDecoder() (*LibopusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewLibopusDecoder",
		"sample_rate": sampleRate,
	}).Debug("Created libopus decoder")

	return &LibopusDecoder{
		decoder: dec,
		pcm:     make([]int16, maxPacketSamples48k),
	}, nil
}

// Decode decodes one Opus packet.
func (d *LibopusDecoder) Decode(frame []byte) ([]int16, error) {
	if d.decoder == nil {
		return nil, fmt.Errorf("decoder closed")
	}
	if _, err := ParseTOC(frame); err != nil {
		return nil, err
	}
	n, err := d.decoder.Decode(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return d.pcm[:n], nil
}

// Conceal asks libopus to extrapolate samples for a lost frame. samples
// must be a valid Opus frame duration, which the 10ms frame always is.
func (d *LibopusDecoder) Conceal(samples int) ([]int16, error) {
	if d.decoder == nil {
		return nil, fmt.Errorf("decoder closed")
	}
	if samples > len(d.pcm) {
		samples = len(d.pcm)
	}
	out := d.pcm[:samples]
	if err := d.decoder.DecodePLC(out); err != nil {
		return nil, fmt.Errorf("opus concealment failed: %w", err)
	}
	return out, nil
}

// Close releases the decoder.
func (d *LibopusDecoder) Close() error {
	d.decoder = nil
	return nil
}
