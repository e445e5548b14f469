package codec

import (
	"errors"
	"fmt"
)

// ErrMalformedPacket indicates an Opus packet whose TOC byte or frame count
// cannot be read.
var ErrMalformedPacket = errors.New("malformed opus packet")

// maxPacketSamples48k is the longest audio one Opus packet may carry (120ms).
const maxPacketSamples48k = 5760

// Samples per frame at 48kHz for each of the 32 TOC configurations.
var tocFrameSamples = [32]int{
	// SILK-only narrowband, mediumband, wideband: 10, 20, 40, 60ms
	480, 960, 1920, 2880,
	480, 960, 1920, 2880,
	480, 960, 1920, 2880,
	// Hybrid superwideband, fullband: 10, 20ms
	480, 960,
	480, 960,
	// CELT-only narrowband, wideband, superwideband, fullband: 2.5, 5, 10, 20ms
	120, 240, 480, 960,
	120, 240, 480, 960,
	120, 240, 480, 960,
	120, 240, 480, 960,
}

// TOC describes an Opus packet as read from its table-of-contents byte.
type TOC struct {
	Config      uint8
	Stereo      bool
	FrameCount  int
	FrameLength int // samples per frame at 48kHz
}

// Samples48k returns the samples per channel the packet decodes to at 48kHz.
func (t TOC) Samples48k() int {
	return t.FrameCount * t.FrameLength
}

// SamplesAt returns the samples per channel the packet decodes to at rate.
func (t TOC) SamplesAt(rate int) int {
	return t.Samples48k() * rate / 48000
}

// ParseTOC reads the TOC byte and, for code 3 packets, the frame count byte.
func ParseTOC(data []byte) (TOC, error) {
	if len(data) == 0 {
		return TOC{}, fmt.Errorf("%w: empty packet", ErrMalformedPacket)
	}
	toc := TOC{
		Config:      data[0] >> 3,
		Stereo:      data[0]&0x04 != 0,
		FrameLength: tocFrameSamples[data[0]>>3],
	}

	switch data[0] & 0x03 {
	case 0:
		toc.FrameCount = 1
	case 1, 2:
		toc.FrameCount = 2
	case 3:
		if len(data) < 2 {
			return TOC{}, fmt.Errorf("%w: missing frame count byte", ErrMalformedPacket)
		}
		toc.FrameCount = int(data[1] & 0x3f)
		if toc.FrameCount == 0 {
			return TOC{}, fmt.Errorf("%w: zero frame count", ErrMalformedPacket)
		}
	}

	if toc.Samples48k() > maxPacketSamples48k {
		return TOC{}, fmt.Errorf("%w: %d samples exceed 120ms", ErrMalformedPacket, toc.Samples48k())
	}
	return toc, nil
}
