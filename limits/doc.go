// Package limits provides centralized size constants and validation functions
// for the voice pipeline.
//
// # Size Hierarchy
//
//   - MaxVoicePacket (1024 bytes): a complete voice packet on the wire,
//     including the header byte, the varint session id (inbound only), the
//     varint sequence number and the codec payload.
//
//   - MaxOpusFrame (8191 bytes): the largest Opus frame the 13-bit frame
//     length can describe.
//
//   - MaxPCMFrame and MaxInjectSamples bound decoder output and injected
//     audio so untrusted input cannot exhaust memory.
//
// # Validation
//
//	if err := limits.ValidateVoicePacket(data); err != nil {
//	    // drop the packet
//	}
//
// All size violations wrap ErrPacketTooLarge and can be matched with
// errors.Is.
package limits
