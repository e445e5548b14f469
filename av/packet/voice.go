package packet

import (
	"errors"
	"fmt"

	"github.com/opd-ai/voicepipe/limits"
)

// ErrNotVoice is returned for packets whose codec field does not carry audio.
var ErrNotVoice = errors.New("not a voice packet")

// VoicePacket is one decoded voice packet. Session is only meaningful for
// inbound packets.
type VoicePacket struct {
	Codec    Codec
	Target   uint8
	Session  uint32
	Sequence int64
	Payload  []byte
}

// ParseInbound decodes a voice packet received from the server. The payload
// slice aliases data.
func ParseInbound(data []byte) (VoicePacket, error) {
	if err := limits.ValidateVoicePacket(data); err != nil {
		return VoicePacket{}, err
	}

	var p VoicePacket
	p.Codec, p.Target = ParseHeader(data[0])
	if !p.Codec.IsAudio() {
		return VoicePacket{}, fmt.Errorf("%w: %s", ErrNotVoice, p.Codec)
	}

	off := 1
	session, n, err := ReadVarint(data[off:])
	if err != nil {
		return VoicePacket{}, fmt.Errorf("session id: %w", err)
	}
	if session < 0 || session > int64(^uint32(0)) {
		return VoicePacket{}, fmt.Errorf("session id %d out of range", session)
	}
	off += n

	seq, n, err := ReadVarint(data[off:])
	if err != nil {
		return VoicePacket{}, fmt.Errorf("sequence: %w", err)
	}
	off += n

	p.Session = uint32(session)
	p.Sequence = seq
	p.Payload = data[off:]
	return p, nil
}

// ParseOutbound decodes a packet built by MarshalOutbound.
func ParseOutbound(data []byte) (VoicePacket, error) {
	if err := limits.ValidateVoicePacket(data); err != nil {
		return VoicePacket{}, err
	}

	var p VoicePacket
	p.Codec, p.Target = ParseHeader(data[0])
	if !p.Codec.IsAudio() {
		return VoicePacket{}, fmt.Errorf("%w: %s", ErrNotVoice, p.Codec)
	}
	seq, n, err := ReadVarint(data[1:])
	if err != nil {
		return VoicePacket{}, fmt.Errorf("sequence: %w", err)
	}
	p.Sequence = seq
	p.Payload = data[1+n:]
	return p, nil
}

// MarshalOutbound builds a client-to-server voice packet:
// header, sequence varint, payload.
func MarshalOutbound(codec Codec, target uint8, sequence int64, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, 1+9+len(payload))
	buf = append(buf, Header(codec, target))
	buf = AppendVarint(buf, sequence)
	buf = append(buf, payload...)
	if err := limits.ValidateVoicePacket(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalInbound builds a server-to-client voice packet, the form the server
// relays after stamping the sender's session id.
func MarshalInbound(p VoicePacket) ([]byte, error) {
	buf := make([]byte, 0, 1+5+9+len(p.Payload))
	buf = append(buf, Header(p.Codec, p.Target))
	buf = AppendVarint(buf, int64(p.Session))
	buf = AppendVarint(buf, p.Sequence)
	buf = append(buf, p.Payload...)
	if err := limits.ValidateVoicePacket(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Relay converts an outbound packet into the inbound form a listener would
// receive for the given sender session.
func Relay(outbound []byte, session uint32) ([]byte, error) {
	p, err := ParseOutbound(outbound)
	if err != nil {
		return nil, err
	}
	p.Session = session
	return MarshalInbound(p)
}
