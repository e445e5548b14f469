package packet

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a variable-length integer or frame runs past
// the end of its buffer.
var ErrTruncated = errors.New("truncated voice data")

// AppendVarint appends v using the variable-length integer form of the voice
// protocol: 1 to 4 prefix-coded bytes for small values, a 0xF0/0xF4 marker
// for 32 and 64 bit values, and 0xF8/0xFC markers for negative numbers.
func AppendVarint(dst []byte, v int64) []byte {
	u := uint64(v)
	if v < 0 && ^u < 0x100000000 {
		u = ^u
		if u <= 0x3 {
			return append(dst, 0xFC|byte(u))
		}
		dst = append(dst, 0xF8)
	}

	switch {
	case u < 0x80:
		return append(dst, byte(u))
	case u < 0x4000:
		return append(dst, byte(u>>8)|0x80, byte(u))
	case u < 0x200000:
		return append(dst, byte(u>>16)|0xC0, byte(u>>8), byte(u))
	case u < 0x10000000:
		return append(dst, byte(u>>24)|0xE0, byte(u>>16), byte(u>>8), byte(u))
	case u < 0x100000000:
		dst = append(dst, 0xF0)
		return binary.BigEndian.AppendUint32(dst, uint32(u))
	default:
		dst = append(dst, 0xF4)
		return binary.BigEndian.AppendUint64(dst, u)
	}
}

// ReadVarint decodes one variable-length integer from the front of src and
// returns it together with the number of bytes consumed.
func ReadVarint(src []byte) (int64, int, error) {
	if len(src) == 0 {
		return 0, 0, ErrTruncated
	}
	b := src[0]
	need := func(n int) error {
		if len(src) < n {
			return ErrTruncated
		}
		return nil
	}

	switch {
	case b&0x80 == 0x00:
		return int64(b & 0x7F), 1, nil
	case b&0xC0 == 0x80:
		if err := need(2); err != nil {
			return 0, 0, err
		}
		return int64(b&0x3F)<<8 | int64(src[1]), 2, nil
	case b&0xF0 == 0xF0:
		switch b & 0xFC {
		case 0xF0:
			if err := need(5); err != nil {
				return 0, 0, err
			}
			return int64(binary.BigEndian.Uint32(src[1:5])), 5, nil
		case 0xF4:
			if err := need(9); err != nil {
				return 0, 0, err
			}
			return int64(binary.BigEndian.Uint64(src[1:9])), 9, nil
		case 0xF8:
			v, n, err := ReadVarint(src[1:])
			if err != nil {
				return 0, 0, err
			}
			return ^v, n + 1, nil
		default:
			return ^int64(b & 0x03), 1, nil
		}
	case b&0xF0 == 0xE0:
		if err := need(4); err != nil {
			return 0, 0, err
		}
		return int64(b&0x0F)<<24 | int64(src[1])<<16 | int64(src[2])<<8 | int64(src[3]), 4, nil
	default:
		if err := need(3); err != nil {
			return 0, 0, err
		}
		return int64(b&0x1F)<<16 | int64(src[1])<<8 | int64(src[2]), 3, nil
	}
}
