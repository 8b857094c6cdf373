package gatt

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// A Codec converts a typed attribute value to and from the little-endian
// wire representation used by ATT (§4.5, §6). Application code may supply
// its own Codec[T] for structured values; the framework treats it
// identically to the built-in primitive codecs.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

type fixedWidthCodec[T any] struct {
	width  int
	encode func(T) []byte
	decode func([]byte) T
}

func (c fixedWidthCodec[T]) Encode(v T) ([]byte, error) {
	return c.encode(v), nil
}

func (c fixedWidthCodec[T]) Decode(b []byte) (T, error) {
	var zero T
	if len(b) != c.width {
		return zero, errors.Wrapf(ErrCodec, "want %d bytes, got %d", c.width, len(b))
	}
	return c.decode(b), nil
}

// U8 is the codec for an unsigned 8-bit integer.
func U8() Codec[uint8] {
	return fixedWidthCodec[uint8]{
		width:  1,
		encode: func(v uint8) []byte { return []byte{v} },
		decode: func(b []byte) uint8 { return b[0] },
	}
}

// U16 is the codec for a little-endian unsigned 16-bit integer.
func U16() Codec[uint16] {
	return fixedWidthCodec[uint16]{
		width: 2,
		encode: func(v uint16) []byte {
			b := make([]byte, 2)
			binary.LittleEndian.PutUint16(b, v)
			return b
		},
		decode: func(b []byte) uint16 { return binary.LittleEndian.Uint16(b) },
	}
}

// U32 is the codec for a little-endian unsigned 32-bit integer.
func U32() Codec[uint32] {
	return fixedWidthCodec[uint32]{
		width: 4,
		encode: func(v uint32) []byte {
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, v)
			return b
		},
		decode: func(b []byte) uint32 { return binary.LittleEndian.Uint32(b) },
	}
}

// I8 is the codec for a signed 8-bit integer.
func I8() Codec[int8] {
	return fixedWidthCodec[int8]{
		width:  1,
		encode: func(v int8) []byte { return []byte{byte(v)} },
		decode: func(b []byte) int8 { return int8(b[0]) },
	}
}

// I16 is the codec for a little-endian signed 16-bit integer.
func I16() Codec[int16] {
	return fixedWidthCodec[int16]{
		width: 2,
		encode: func(v int16) []byte {
			b := make([]byte, 2)
			binary.LittleEndian.PutUint16(b, uint16(v))
			return b
		},
		decode: func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) },
	}
}

// I32 is the codec for a little-endian signed 32-bit integer.
func I32() Codec[int32] {
	return fixedWidthCodec[int32]{
		width: 4,
		encode: func(v int32) []byte {
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, uint32(v))
			return b
		},
		decode: func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) },
	}
}

// F32 is the codec for a little-endian IEEE-754 32-bit float.
func F32() Codec[float32] {
	return fixedWidthCodec[float32]{
		width: 4,
		encode: func(v float32) []byte {
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, math.Float32bits(v))
			return b
		},
		decode: func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) },
	}
}

// Bool is the codec for a single byte, 0 or 1.
func Bool() Codec[bool] {
	return fixedWidthCodec[bool]{
		width: 1,
		encode: func(v bool) []byte {
			if v {
				return []byte{1}
			}
			return []byte{0}
		},
		decode: func(b []byte) bool { return b[0] != 0 },
	}
}

type stringCodec struct{}

func (stringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }

// String is the codec for UTF-8 text with no terminator.
func String() Codec[string] { return stringCodec{} }

type bytesCodec struct{}

func (bytesCodec) Encode(v []byte) ([]byte, error) {
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (bytesCodec) Decode(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Bytes is the codec for an opaque byte payload.
func Bytes() Codec[[]byte] { return bytesCodec{} }
