// Package leb128 implements the LEB128 variable-length integer encoding used
// throughout the WebAssembly binary format.
package leb128

import "github.com/pkg/errors"

// ErrOverflow is returned when a LEB128 sequence encodes a value wider than
// the target integer type allows, per the Wasm binary format's strict
// bit-width checks (e.g. a u32 LEB128 may use at most 5 bytes, and the
// unused bits of the final byte must be zero).
var ErrOverflow = errors.New("leb128: integer representation too long")

// ErrTruncated is returned when the input ends before a terminating byte
// (one with the continuation bit clear) is seen.
var ErrTruncated = errors.New("leb128: unexpected end of input")

// LoadUint32 decodes an unsigned LEB128 value into a uint32, returning the
// number of bytes consumed.
func LoadUint32(b []byte) (uint32, uint64, error) {
	v, n, err := loadUint(b, 32)
	return uint32(v), n, err
}

// LoadUint64 decodes an unsigned LEB128 value into a uint64, returning the
// number of bytes consumed.
func LoadUint64(b []byte) (uint64, uint64, error) {
	return loadUint(b, 64)
}

func loadUint(b []byte, bits int) (uint64, uint64, error) {
	var result uint64
	var shift uint
	var i uint64
	for {
		if i >= uint64(len(b)) {
			return 0, 0, ErrTruncated
		}
		c := b[i]
		i++
		lowBits := uint64(c & 0x7f)
		if shift >= uint(bits) {
			// Any remaining significant bits must be zero, and if
			// bits isn't a multiple of 7, the leftover bits in the
			// last allowed byte must also be zero.
			if lowBits != 0 {
				return 0, 0, ErrOverflow
			}
		} else if shift+7 > uint(bits) && lowBits>>(uint(bits)-shift) != 0 {
			return 0, 0, ErrOverflow
		} else {
			result |= lowBits << shift
		}
		if c&0x80 == 0 {
			if shift+7 < uint(bits) && int(i) > (bits+6)/7 {
				return 0, 0, ErrOverflow
			}
			return result, i, nil
		}
		shift += 7
		if shift > uint(bits)+7 {
			return 0, 0, ErrOverflow
		}
	}
}

// LoadInt32 decodes a signed LEB128 value into an int32, returning the
// number of bytes consumed.
func LoadInt32(b []byte) (int32, uint64, error) {
	v, n, err := loadInt(b, 32)
	return int32(v), n, err
}

// LoadInt64 decodes a signed LEB128 value into an int64, returning the
// number of bytes consumed.
func LoadInt64(b []byte) (int64, uint64, error) {
	return loadInt(b, 64)
}

func loadInt(b []byte, bits int) (int64, uint64, error) {
	var result int64
	var shift uint
	var i uint64
	var c byte
	for {
		if i >= uint64(len(b)) {
			return 0, 0, ErrTruncated
		}
		c = b[i]
		i++
		result |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			break
		}
		if shift >= uint(bits) {
			return 0, 0, ErrOverflow
		}
	}
	// sign extend
	if shift < 64 && c&0x40 != 0 {
		result |= -1 << shift
	}
	if shift > uint(bits) && overflowsSignExtend(result, c, shift, bits) {
		return 0, 0, ErrOverflow
	}
	return result, i, nil
}

func overflowsSignExtend(result int64, lastByte byte, shift uint, bits int) bool {
	// The bits beyond the target width in the final byte must all equal
	// the sign bit, otherwise the source encoded a wider value than fits.
	signExtended := result >> (uint(bits) - 1)
	return signExtended != 0 && signExtended != -1
}

// EncodeUint32 encodes v as unsigned LEB128.
func EncodeUint32(v uint32) []byte {
	return encodeUint(uint64(v))
}

// EncodeUint64 encodes v as unsigned LEB128.
func EncodeUint64(v uint64) []byte {
	return encodeUint(v)
}

func encodeUint(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// EncodeInt32 encodes v as signed LEB128.
func EncodeInt32(v int32) []byte {
	return encodeInt(int64(v))
}

// EncodeInt64 encodes v as signed LEB128.
func EncodeInt64(v int64) []byte {
	return encodeInt(v)
}

func encodeInt(v int64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		done := (v == 0 && !signBitSet) || (v == -1 && signBitSet)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}
