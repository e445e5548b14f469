// Package limits provides centralized voice packet size limits.
// This ensures consistent validation between packet parsing and packet building.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxVoicePacket is the largest voice packet accepted from or handed to
	// the network layer, header and sequence included.
	MaxVoicePacket = 1024

	// MaxOpusFrame is the largest single Opus frame that fits the 13-bit
	// length field of the Opus frame header.
	MaxOpusFrame = 0x1fff

	// MaxPCMFrame bounds a single decoded PCM frame (120ms at 48kHz stereo).
	MaxPCMFrame = 5760 * 2

	// MaxInjectSamples bounds a single injected PCM buffer (60s at 48kHz).
	MaxInjectSamples = 48000 * 60
)

var (
	// ErrPacketEmpty indicates an empty packet was provided
	ErrPacketEmpty = errors.New("empty packet")

	// ErrPacketTooLarge indicates a packet exceeds the maximum size
	ErrPacketTooLarge = errors.New("packet too large")
)

// ValidateSize validates data against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrPacketEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPacketTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateVoicePacket validates a wire voice packet against MaxVoicePacket.
func ValidateVoicePacket(packet []byte) error {
	if len(packet) == 0 {
		return ErrPacketEmpty
	}
	if len(packet) > MaxVoicePacket {
		return fmt.Errorf("%w: voice packet size %d exceeds limit %d", ErrPacketTooLarge, len(packet), MaxVoicePacket)
	}
	return nil
}

// ValidateOpusFrame validates an encoded Opus frame against MaxOpusFrame.
func ValidateOpusFrame(frame []byte) error {
	if len(frame) > MaxOpusFrame {
		return fmt.Errorf("%w: opus frame size %d exceeds limit %d", ErrPacketTooLarge, len(frame), MaxOpusFrame)
	}
	return nil
}
