// Package packet implements the voice packet wire format and the per-speaker
// jitter buffer.
//
// A voice packet starts with one header byte carrying the codec type in the
// top three bits and the voice target in the low five bits. Inbound packets
// then carry the sender's session id as a variable-length integer; both
// directions carry the sequence number of the first frame as a
// variable-length integer. The remainder is the codec payload:
//
//	Opus:        varint(length | 0x2000 if terminator) + opus packet
//	CELT/Speex:  one or more (header byte + frame), header bit 7 = more frames
//
// Sequence numbers count 10ms frames, so a packet carrying four frames at
// sequence 100 is followed by a packet at sequence 104.
//
// Example:
//
//	pkt, err := packet.ParseInbound(data)
//	if err != nil {
//	    return err
//	}
//	frames, terminator, err := packet.SplitFrames(pkt.Codec, pkt.Payload)
package packet
