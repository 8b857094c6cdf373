package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeSetUpdatesValue(t *testing.T) {
	attr := NewAttribute(U32(), uint32(0))
	require.NoError(t, attr.Set(42))
	assert.Equal(t, uint32(42), attr.Value())
}

func TestAttributeUpdatesAreNotIdempotent(t *testing.T) {
	attr := NewAttribute(U32(), uint32(1))
	require.NoError(t, attr.Set(1))
	require.NoError(t, attr.Set(1))

	u := <-attr.Updates()
	assert.Equal(t, uint32(1), u.Old)
	assert.Equal(t, uint32(1), u.New)
}

func TestAttributeUpdateChannelDropsOldest(t *testing.T) {
	attr := NewAttribute(U32(), uint32(0))
	require.NoError(t, attr.Set(1))
	require.NoError(t, attr.Set(2))
	require.NoError(t, attr.Set(3))

	u := <-attr.Updates()
	assert.Equal(t, uint32(3), u.New, "only the most recent update should survive capacity-1 drop-oldest")

	select {
	case <-attr.Updates():
		t.Fatal("expected no second queued update")
	default:
	}
}

func TestAttributeHandleAssignedExactlyOnce(t *testing.T) {
	attr := NewAttribute(U32(), uint32(0))
	_, ok := attr.attrHandle()
	assert.False(t, ok)

	require.NoError(t, attr.assignHandle(7))
	h, ok := attr.attrHandle()
	require.True(t, ok)
	assert.Equal(t, uint16(7), h)

	err := attr.assignHandle(8)
	assert.Error(t, err)
}

func TestAttributeApplyBytesDecodesAndSets(t *testing.T) {
	attr := NewAttribute(U16(), uint16(0))
	require.NoError(t, attr.applyBytes([]byte{0x02, 0x00}))
	assert.Equal(t, uint16(2), attr.Value())
}

func TestAttributeApplyBytesRejectsBadLength(t *testing.T) {
	attr := NewAttribute(U16(), uint16(0))
	err := attr.applyBytes([]byte{0x01})
	assert.ErrorIs(t, err, ErrCodec)
}
