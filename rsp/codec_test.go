package rsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHexEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOf(rapid.Byte()).Draw(t, "in")

		encoded := HexEncodeString(in)
		assert.Equal(t, len(in)*2, len(encoded))

		decoded, err := HexDecodeString(encoded)
		require.NoError(t, err)
		assert.Equal(t, in, decoded)
	})
}

func TestHexEncodeBufferTooSmall(t *testing.T) {
	dst := make([]byte, 3)
	_, err := HexEncode(dst, []byte{1, 2})
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestHexDecodeStrictLength(t *testing.T) {
	dst := make([]byte, 2)
	err := HexDecode(dst, []byte("aabb"))
	assert.NoError(t, err)

	err = HexDecode(dst, []byte("aabbcc"))
	assert.ErrorIs(t, err, ErrMalformedHex)
}

func TestHexDecodeRejectsNonHexDigit(t *testing.T) {
	dst := make([]byte, 1)
	err := HexDecode(dst, []byte("zz"))
	assert.ErrorIs(t, err, ErrMalformedHex)
}

func TestHexDecodeCaseInsensitive(t *testing.T) {
	dst := make([]byte, 1)
	require.NoError(t, HexDecode(dst, []byte("AB")))
	assert.Equal(t, byte(0xab), dst[0])
}

func TestBinEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOf(rapid.Byte()).Draw(t, "in")

		encoded := BinEncode(in)
		for i := 0; i < len(encoded); i++ {
			if encoded[i] == 0x7d {
				require.Less(t, i+1, len(encoded), "trailing escape byte")
				unescaped := encoded[i+1] ^ 0x20
				assert.Contains(t, []byte{'$', '#', '}', '*'}, unescaped)
				i++
			}
		}

		decoded, err := BinDecode(encoded)
		require.NoError(t, err)
		assert.Equal(t, in, decoded)
	})
}

func TestBinDecodeTrailingEscapeIsMalformed(t *testing.T) {
	_, err := BinDecode([]byte{'a', 0x7d})
	assert.ErrorIs(t, err, ErrMalformedEscape)
}

func TestBinDecodePassesThroughUnescapedStar(t *testing.T) {
	// RLE expansion is explicitly not implemented (spec §4.1): a raw '*'
	// decodes unchanged.
	decoded, err := BinDecode([]byte{'*'})
	require.NoError(t, err)
	assert.Equal(t, []byte{'*'}, decoded)
}

func TestChecksumRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOf(rapid.Byte()).Draw(t, "payload")

		sum := Checksum(payload)
		encoded := HexEncodeString([]byte{sum})
		decoded, err := HexDecodeString(encoded)
		require.NoError(t, err)
		assert.Equal(t, sum, decoded[0])
	})
}

func TestChecksumWraps(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = 1
	}
	assert.Equal(t, byte(300%256), Checksum(payload))
}

func TestParseIntExplicitHexBase(t *testing.T) {
	v, n := ParseInt([]byte("1234,rest"), 16)
	assert.Equal(t, int64(0x1234), v)
	assert.Equal(t, 4, n)
}

func TestParseIntHexPrefix(t *testing.T) {
	v, n := ParseInt([]byte("0x3ffe8000"), 0)
	assert.Equal(t, int64(0x3ffe8000), v)
	assert.Equal(t, 10, n)
}

func TestParseIntAutoDecimal(t *testing.T) {
	v, n := ParseInt([]byte("42"), 0)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, 2, n)
}

func TestParseIntSigned(t *testing.T) {
	v, n := ParseInt([]byte("-5"), 10)
	assert.Equal(t, int64(-5), v)
	assert.Equal(t, 2, n)
}

func TestParseIntNoDigitsIsInvalid(t *testing.T) {
	v, n := ParseInt([]byte(",rest"), 16)
	assert.Equal(t, int64(0), v)
	assert.Equal(t, 0, n)
}
