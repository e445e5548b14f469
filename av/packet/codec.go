package packet

import "fmt"

// Codec identifies the compression format of a voice packet payload.
// The values are the wire ordinals carried in the top three header bits.
type Codec uint8

const (
	CodecCELTAlpha Codec = 0
	CodecPing      Codec = 1
	CodecSpeex     Codec = 2
	CodecCELTBeta  Codec = 3
	CodecOpus      Codec = 4
)

// MaxTarget is the highest voice target id the header can carry.
const MaxTarget = 0x1f

// String returns the codec name used in logs and configuration.
func (c Codec) String() string {
	switch c {
	case CodecCELTAlpha:
		return "celt-alpha"
	case CodecPing:
		return "ping"
	case CodecSpeex:
		return "speex"
	case CodecCELTBeta:
		return "celt-beta"
	case CodecOpus:
		return "opus"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// IsAudio reports whether the codec carries voice frames.
func (c Codec) IsAudio() bool {
	switch c {
	case CodecCELTAlpha, CodecSpeex, CodecCELTBeta, CodecOpus:
		return true
	}
	return false
}

// ParseCodec maps a configuration name back to a Codec.
func ParseCodec(name string) (Codec, error) {
	for _, c := range []Codec{CodecCELTAlpha, CodecSpeex, CodecCELTBeta, CodecOpus} {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}

// Header builds the first byte of a voice packet.
func Header(codec Codec, target uint8) byte {
	return byte(codec)<<5 | target&MaxTarget
}

// ParseHeader splits a header byte into codec and voice target.
func ParseHeader(b byte) (Codec, uint8) {
	return Codec(b >> 5 & 0x07), b & MaxTarget
}
