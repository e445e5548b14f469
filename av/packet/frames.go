package packet

import (
	"fmt"

	"github.com/opd-ai/voicepipe/limits"
)

const (
	opusTerminatorBit = 0x2000
	opusLengthMask    = 0x1fff
)

// AppendOpusFrame appends the Opus frame header and the frame itself.
func AppendOpusFrame(dst, frame []byte, terminator bool) ([]byte, error) {
	if err := limits.ValidateOpusFrame(frame); err != nil {
		return nil, err
	}
	h := int64(len(frame))
	if terminator {
		h |= opusTerminatorBit
	}
	dst = AppendVarint(dst, h)
	return append(dst, frame...), nil
}

// ParseOpusFrame reads the Opus frame header from payload and returns the
// frame and its terminator flag.
func ParseOpusFrame(payload []byte) ([]byte, bool, error) {
	h, n, err := ReadVarint(payload)
	if err != nil {
		return nil, false, fmt.Errorf("opus header: %w", err)
	}
	length := int(h & opusLengthMask)
	terminator := h&opusTerminatorBit != 0
	if len(payload)-n < length {
		return nil, false, fmt.Errorf("opus frame length %d exceeds payload %d: %w", length, len(payload)-n, ErrTruncated)
	}
	return payload[n : n+length], terminator, nil
}

// AppendLegacyFrames appends CELT/Speex style frames, each prefixed by a
// header byte holding its length with bit 7 set when more frames follow.
// A terminating packet ends with an empty frame.
func AppendLegacyFrames(dst []byte, frames [][]byte, terminator bool) ([]byte, error) {
	all := frames
	if terminator {
		all = append(append([][]byte(nil), frames...), nil)
	}
	for i, f := range all {
		if len(f) > 0x7f {
			return nil, fmt.Errorf("%w: legacy frame size %d exceeds limit %d", limits.ErrPacketTooLarge, len(f), 0x7f)
		}
		h := byte(len(f))
		if i < len(all)-1 {
			h |= 0x80
		}
		dst = append(dst, h)
		dst = append(dst, f...)
	}
	return dst, nil
}

// SplitFrames splits a codec payload into decodable frames and reports
// whether the packet ends the speaker's transmission.
func SplitFrames(codec Codec, payload []byte) ([][]byte, bool, error) {
	if codec == CodecOpus {
		frame, terminator, err := ParseOpusFrame(payload)
		if err != nil {
			return nil, false, err
		}
		if len(frame) == 0 {
			return nil, true, nil
		}
		return [][]byte{frame}, terminator, nil
	}
	if !codec.IsAudio() {
		return nil, false, fmt.Errorf("%w: %s", ErrNotVoice, codec)
	}

	var frames [][]byte
	off := 0
	for {
		if off >= len(payload) {
			return nil, false, fmt.Errorf("legacy frame header: %w", ErrTruncated)
		}
		h := payload[off]
		off++
		length := int(h & 0x7f)
		if len(payload)-off < length {
			return nil, false, fmt.Errorf("legacy frame length %d: %w", length, ErrTruncated)
		}
		if length == 0 {
			return frames, true, nil
		}
		frames = append(frames, payload[off:off+length])
		off += length
		if h&0x80 == 0 {
			return frames, false, nil
		}
	}
}
