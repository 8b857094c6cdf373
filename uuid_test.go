package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUID16ExpandsAgainstBaseUUID(t *testing.T) {
	u := UUID16(0x2902)
	assert.Equal(t, UUIDClientCharacteristicConfig, u)
	assert.True(t, u.Is16Bit())
	assert.Equal(t, uint16(0x2902), u.Short())
}

func TestUUID32Expands(t *testing.T) {
	u := UUID32(0x12345678)
	assert.Equal(t, byte(0x12), u[0])
	assert.Equal(t, byte(0x34), u[1])
	assert.Equal(t, byte(0x56), u[2])
	assert.Equal(t, byte(0x78), u[3])
}

func TestParseUUIDShortForm(t *testing.T) {
	u, err := ParseUUID("0x2901")
	require.NoError(t, err)
	assert.Equal(t, UUIDCharacteristicUserDescription, u)

	u2, err := ParseUUID("2902")
	require.NoError(t, err)
	assert.Equal(t, UUIDClientCharacteristicConfig, u2)
}

func TestParseUUIDLongForm(t *testing.T) {
	full, err := NewUUID()
	require.NoError(t, err)

	parsed, err := ParseUUID(full.String())
	require.NoError(t, err)
	assert.Equal(t, full, parsed)
}

func TestNewUUIDIsRandomEachCall(t *testing.T) {
	a, err := NewUUID()
	require.NoError(t, err)
	b, err := NewUUID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestIs16BitFalseForArbitraryUUID(t *testing.T) {
	u, err := NewUUID()
	require.NoError(t, err)
	assert.False(t, u.Is16Bit())
}
