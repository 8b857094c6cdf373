package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWidthCodecsRoundTrip(t *testing.T) {
	t.Run("u8", func(t *testing.T) {
		b, err := U8().Encode(0xAB)
		require.NoError(t, err)
		v, err := U8().Decode(b)
		require.NoError(t, err)
		assert.Equal(t, uint8(0xAB), v)
	})

	t.Run("u16 little endian", func(t *testing.T) {
		b, err := U16().Encode(0x1234)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x34, 0x12}, b)
		v, err := U16().Decode(b)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x1234), v)
	})

	t.Run("i32", func(t *testing.T) {
		b, err := I32().Encode(-1)
		require.NoError(t, err)
		v, err := I32().Decode(b)
		require.NoError(t, err)
		assert.Equal(t, int32(-1), v)
	})

	t.Run("f32", func(t *testing.T) {
		b, err := F32().Encode(3.5)
		require.NoError(t, err)
		v, err := F32().Decode(b)
		require.NoError(t, err)
		assert.InDelta(t, 3.5, v, 0.0001)
	})

	t.Run("bool", func(t *testing.T) {
		b, err := Bool().Encode(true)
		require.NoError(t, err)
		v, err := Bool().Decode(b)
		require.NoError(t, err)
		assert.True(t, v)
	})
}

func TestFixedWidthCodecRejectsWrongLength(t *testing.T) {
	_, err := U16().Decode([]byte{0x01})
	assert.ErrorIs(t, err, ErrCodec)
}

func TestStringCodecRoundTrip(t *testing.T) {
	b, err := String().Encode("hello")
	require.NoError(t, err)
	v, err := String().Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestBytesCodecCopiesRatherThanAliases(t *testing.T) {
	in := []byte{1, 2, 3}
	b, err := Bytes().Encode(in)
	require.NoError(t, err)
	in[0] = 0xFF
	assert.Equal(t, byte(1), b[0])
}
