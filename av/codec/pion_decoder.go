package codec

import (
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av/audio"
)

// concealFade is the attenuation applied to each successive concealed frame.
const concealFade = 0.5

// PureDecoder decodes Opus with the pure-Go pion/opus decoder.
//
// pion/opus produces PCM at the packet's coded bandwidth, so the output is
// resampled to 48kHz and stereo packets are downmixed. Lost frames are
// concealed by repeating the last decoded frame at decreasing volume.
type PureDecoder struct {
	decoder    *opus.Decoder
	raw        []byte
	out        []int16
	resamplers map[int]*audio.Resampler
	last       []int16
	fade       float64
}

// NewPureDecoder creates a pion/opus backed decoder.
func NewPureDecoder() *PureDecoder {
	decoder := opus.NewDecoder()

	logrus.WithFields(logrus.Fields{
		"function": "NewPureDecoder",
	}).Debug("Created pure-Go Opus decoder")

	return &PureDecoder{
		decoder:    &decoder,
		raw:        make([]byte, maxPacketSamples48k*2*2),
		resamplers: make(map[int]*audio.Resampler),
	}
}

// Decode decodes one Opus packet to 48kHz mono PCM.
func (d *PureDecoder) Decode(frame []byte) ([]int16, error) {
	if d.decoder == nil {
		return nil, fmt.Errorf("decoder closed")
	}
	toc, err := ParseTOC(frame)
	if err != nil {
		return nil, err
	}

	bandwidth, isStereo, err := d.decoder.Decode(frame, d.raw)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	rate := bandwidth.SampleRate()
	channels := 1
	if isStereo {
		channels = 2
	}
	samples := toc.SamplesAt(rate)
	if samples*channels*2 > len(d.raw) {
		return nil, fmt.Errorf("%w: decoded size exceeds buffer", ErrMalformedPacket)
	}

	pcm := bytesToMono(d.raw[:samples*channels*2], channels)
	if rate != 48000 {
		pcm, err = d.resample(pcm, rate)
		if err != nil {
			return nil, err
		}
	}

	d.out = fitLength(d.out[:0], pcm, toc.Samples48k())
	d.last = append(d.last[:0], d.out...)
	d.fade = 1.0
	return d.out, nil
}

// Conceal repeats the tail of the last decoded frame, fading further with
// every consecutive loss. It returns silence when nothing was decoded yet.
func (d *PureDecoder) Conceal(samples int) ([]int16, error) {
	out := make([]int16, samples)
	if len(d.last) == 0 {
		return out, nil
	}
	d.fade *= concealFade
	for i := range out {
		out[i] = d.last[i%len(d.last)]
	}
	audio.ApplyGain(out, d.fade)
	return out, nil
}

// Close releases the decoder. Decode fails afterwards.
func (d *PureDecoder) Close() error {
	d.decoder = nil
	d.resamplers = nil
	return nil
}

func (d *PureDecoder) resample(pcm []int16, rate int) ([]int16, error) {
	r, ok := d.resamplers[rate]
	if !ok {
		var err error
		r, err = audio.NewResampler(audio.ResamplerConfig{
			InputRate:  uint32(rate),
			OutputRate: 48000,
			Channels:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("create resampler: %w", err)
		}
		d.resamplers[rate] = r
	}
	return r.Resample(pcm)
}

// bytesToMono converts little-endian 16-bit PCM to mono, averaging stereo
// pairs.
func bytesToMono(raw []byte, channels int) []int16 {
	frames := len(raw) / 2 / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			sum += int32(int16(uint16(raw[off]) | uint16(raw[off+1])<<8))
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// fitLength copies src into dst at exactly n samples, holding the final
// sample when src is short.
func fitLength(dst, src []int16, n int) []int16 {
	if len(src) >= n {
		return append(dst, src[:n]...)
	}
	dst = append(dst, src...)
	var hold int16
	if len(src) > 0 {
		hold = src[len(src)-1]
	}
	for len(dst) < n {
		dst = append(dst, hold)
	}
	return dst
}
