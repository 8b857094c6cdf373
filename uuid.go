package gatt

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	satori "github.com/satori/go.uuid"
)

// bluetoothBaseUUID is the 128-bit Bluetooth Base UUID; 16-bit and 32-bit
// "short form" UUIDs from the assigned numbers registry are this base with
// bytes 2-3 (16-bit) or bytes 0-3 (32-bit) replaced by the short value.
var bluetoothBaseUUID = UUID{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0x80, 0x5F, 0x9B, 0x34, 0xFB,
}

// A UUID identifies a service, characteristic or descriptor. It is always
// stored in full 128-bit form; UUID16 and UUID32 are convenience
// constructors that expand a short-form UUID against the Bluetooth Base
// UUID, the same way the host stack does internally.
type UUID [16]byte

// UUID16 expands a 16-bit assigned-number UUID (e.g. 0x2902) into its
// 128-bit form.
func UUID16(v uint16) UUID {
	u := bluetoothBaseUUID
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return u
}

// UUID32 expands a 32-bit assigned-number UUID into its 128-bit form.
func UUID32(v uint32) UUID {
	u := bluetoothBaseUUID
	u[0] = byte(v >> 24)
	u[1] = byte(v >> 16)
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return u
}

// NewUUID generates a random 128-bit application UUID, e.g. for a service
// instance_id namespace.
func NewUUID() (UUID, error) {
	v4, err := satori.NewV4()
	if err != nil {
		return UUID{}, errors.Wrap(err, "generate uuid v4")
	}
	var u UUID
	copy(u[:], v4.Bytes())
	return u, nil
}

// ParseUUID parses a UUID in either canonical 128-bit hyphenated form or a
// bare "0x2902"/"2902" 16-bit short form.
func ParseUUID(s string) (UUID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(trimmed) <= 4 {
		b, err := hex.DecodeString(pad4(trimmed))
		if err != nil {
			return UUID{}, errors.Wrapf(err, "parse short uuid %q", s)
		}
		return UUID16(uint16(b[0])<<8 | uint16(b[1])), nil
	}
	parsed, err := satori.FromString(s)
	if err != nil {
		return UUID{}, errors.Wrapf(err, "parse uuid %q", s)
	}
	var u UUID
	copy(u[:], parsed.Bytes())
	return u, nil
}

func pad4(s string) string {
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}

// String renders the UUID in canonical hyphenated form.
func (u UUID) String() string {
	return satori.UUID(u).String()
}

// Is16Bit reports whether u is the Bluetooth Base UUID with only the
// assigned-number field set, i.e. it has a short form.
func (u UUID) Is16Bit() bool {
	short := UUID16(u.Short())
	return short == u
}

// Short returns the 16-bit assigned-number field, regardless of whether u
// is actually a base-UUID-derived short form; callers should check
// Is16Bit first if that distinction matters.
func (u UUID) Short() uint16 {
	return uint16(u[2])<<8 | uint16(u[3])
}

// Standard descriptor UUIDs (§6).
var (
	UUIDCharacteristicUserDescription = UUID16(0x2901)
	UUIDClientCharacteristicConfig    = UUID16(0x2902)
	UUIDServerCharacteristicConfig    = UUID16(0x2903)
)
