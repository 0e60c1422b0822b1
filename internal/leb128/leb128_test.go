package leb128

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeInt32(t *testing.T) {
	for _, c := range []struct {
		input    int32
		expected []byte
	}{
		{input: -624485, expected: []byte{0x9b, 0xf1, 0x59}},
		{input: -4, expected: []byte{0x7c}},
		{input: -1, expected: []byte{0x7f}},
		{input: 0, expected: []byte{0x00}},
		{input: 1, expected: []byte{0x01}},
		{input: 624485, expected: []byte{0xe5, 0x8e, 0x26}},
		{input: math.MaxInt32, expected: []byte{0xff, 0xff, 0xff, 0xff, 0x7}},
		{input: math.MinInt32, expected: []byte{0x80, 0x80, 0x80, 0x80, 0x78}},
	} {
		require.Equal(t, c.expected, EncodeInt32(c.input))
		decoded, n, err := LoadInt32(c.expected)
		require.NoError(t, err)
		require.Equal(t, uint64(len(c.expected)), n)
		require.Equal(t, c.input, decoded)
	}
}

func TestEncodeDecodeUint32(t *testing.T) {
	for _, c := range []struct {
		input    uint32
		expected []byte
	}{
		{input: 0, expected: []byte{0x00}},
		{input: 1, expected: []byte{0x01}},
		{input: 624485, expected: []byte{0xe5, 0x8e, 0x26}},
		{input: math.MaxUint32, expected: []byte{0xff, 0xff, 0xff, 0xff, 0xf}},
	} {
		require.Equal(t, c.expected, EncodeUint32(c.input))
		decoded, n, err := LoadUint32(c.expected)
		require.NoError(t, err)
		require.Equal(t, uint64(len(c.expected)), n)
		require.Equal(t, c.input, decoded)
	}
}

func TestLoadUint32_Overflow(t *testing.T) {
	// A 5th byte that is not final (continuation bit set, value bits beyond
	// bit 31) exceeds u32's 5-byte limit.
	_, _, err := LoadUint32([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x00})
	require.ErrorIs(t, err, ErrOverflow)
}

func TestLoadUint32_Truncated(t *testing.T) {
	_, _, err := LoadUint32([]byte{0x80, 0x80})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestEncodeDecodeUint64(t *testing.T) {
	for _, v := range []uint64{0, 1, 624485, math.MaxUint32, math.MaxUint64} {
		enc := EncodeUint64(v)
		decoded, n, err := LoadUint64(enc)
		require.NoError(t, err)
		require.Equal(t, uint64(len(enc)), n)
		require.Equal(t, v, decoded)
	}
}

func TestEncodeDecodeInt64(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 624485, -624485, math.MaxInt64, math.MinInt64} {
		enc := EncodeInt64(v)
		decoded, n, err := LoadInt64(enc)
		require.NoError(t, err)
		require.Equal(t, uint64(len(enc)), n)
		require.Equal(t, v, decoded)
	}
}
