package vmops

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
)

// ErrOddLength is returned by DecodeHex when given an odd number of hex
// digits (from_hex has no valid halfway byte).
var ErrOddLength = errors.New("vmops: odd-length hex input")

const hexDigits = "0123456789abcdef"

// EncodeHex expands each byte of src into two lowercase ASCII hex digits,
// matching action 7 (to_hex).
func EncodeHex(src []byte) []byte {
	dst := make([]byte, len(src)*2)
	for i, b := range src {
		dst[i*2] = hexDigits[b>>4]
		dst[i*2+1] = hexDigits[b&0xf]
	}
	return dst
}

// DecodeHex is the inverse of EncodeHex, matching action 8 (from_hex). An
// odd-length input returns ErrOddLength. Otherwise it stops at the first
// non-hex character and returns the bytes decoded so far with a nil error.
func DecodeHex(src []byte) ([]byte, error) {
	if len(src)%2 != 0 {
		return nil, ErrOddLength
	}
	dst := make([]byte, len(src)/2)
	for i := range dst {
		hi, ok := hexNibble(src[i*2])
		if !ok {
			return dst[:i], nil
		}
		lo, ok := hexNibble(src[i*2+1])
		if !ok {
			return dst[:i], nil
		}
		dst[i] = hi<<4 | lo
	}
	return dst, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// U32LE reads the first four bytes of b as a little-endian uint32. Callers
// (the aligned-word dispatch helpers) must ensure len(b) >= 4.
func U32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// U32BE reads the first four bytes of b as a big-endian uint32.
func U32BE(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// PutU32LE and PutU32BE write v into b[0:4] in the named byte order.
func PutU32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func PutU32BE(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// EncodeVarint appends the standard LEB128 unsigned varint encoding of v.
// Nothing in the module calls it; rate-limiter counters are stored by the
// KV store's Incr as decimal strings.
func EncodeVarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// DecodeVarint reads a single LEB128 unsigned varint from src.
func DecodeVarint(src []byte) (uint64, int, error) {
	v, n := binary.Uvarint(src)
	if n <= 0 {
		return 0, 0, errors.New("vmops: invalid varint")
	}
	return v, n, nil
}

// B64 and UnB64 wrap standard base64 (padded, URL-unsafe alphabet is not
// used here; the wire envelopes in internal/challenge use base64.StdEncoding
// directly per spec.md §6, these helpers exist for callers that only need
// the codec without importing encoding/base64 themselves).
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
func UnB64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
