package rdb

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errLZFUnsupported = errors.New("rdb: LZF-compressed string encoding not implemented")

// readLength decodes the 2-bit-tagged length prefix at data[pos] (spec.md
// §4.3 "Length encoding") and returns the value plus the position just past
// it. It never returns the "11" special-string subtype; callers that need
// string values use readString, which handles that branch itself.
func readLength(data []byte, pos int) (uint64, int, error) {
	if pos >= len(data) {
		return 0, pos, fmt.Errorf("truncated length prefix")
	}
	b0 := data[pos]

	switch b0 >> 6 {
	case 0b00:
		return uint64(b0 & 0x3F), pos + 1, nil

	case 0b01:
		if pos+1 >= len(data) {
			return 0, pos, fmt.Errorf("truncated 14-bit length")
		}
		return uint64(b0&0x3F)<<8 | uint64(data[pos+1]), pos + 2, nil

	case 0b10:
		if pos+5 > len(data) {
			return 0, pos, fmt.Errorf("truncated 32-bit length")
		}
		return uint64(binary.BigEndian.Uint32(data[pos+1 : pos+5])), pos + 5, nil

	default: // 0b11: special string encoding, not a plain length
		return 0, pos, fmt.Errorf("length prefix at this position is a special string encoding (subtype %d)", b0&0x3F)
	}
}

// readString reads a length-prefixed string object at data[pos], handling
// both the plain-length encodings and the "11" special integer encodings
// (spec.md §4.3). LZF-compressed strings are detected but left
// unimplemented, returning a clear error rather than silently truncating.
func readString(data []byte, pos int) (string, int, error) {
	if pos >= len(data) {
		return "", pos, fmt.Errorf("truncated string header")
	}
	b0 := data[pos]

	if b0>>6 == 0b11 {
		switch b0 & 0x3F {
		case 0: // 8-bit signed integer
			if pos+2 > len(data) {
				return "", pos, fmt.Errorf("truncated int8 string")
			}
			v := int8(data[pos+1])
			return fmt.Sprintf("%d", v), pos + 2, nil

		case 1: // 16-bit signed integer, little-endian
			if pos+3 > len(data) {
				return "", pos, fmt.Errorf("truncated int16 string")
			}
			v := int16(binary.LittleEndian.Uint16(data[pos+1 : pos+3]))
			return fmt.Sprintf("%d", v), pos + 3, nil

		case 2: // 32-bit signed integer, little-endian
			if pos+5 > len(data) {
				return "", pos, fmt.Errorf("truncated int32 string")
			}
			v := int32(binary.LittleEndian.Uint32(data[pos+1 : pos+5]))
			return fmt.Sprintf("%d", v), pos + 5, nil

		case 3:
			return "", pos, errLZFUnsupported

		default:
			return "", pos, fmt.Errorf("unknown special string subtype %d", b0&0x3F)
		}
	}

	length, next, err := readLength(data, pos)
	if err != nil {
		return "", pos, err
	}
	if next+int(length) > len(data) {
		return "", pos, fmt.Errorf("string of length %d extends past end of data", length)
	}
	return string(data[next : next+int(length)]), next + int(length), nil
}
