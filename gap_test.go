package gatt

import (
	"testing"

	"github.com/dk731/go-bluedroid/hoststack/simstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGAPSetConfigAndStartStopAdvertising(t *testing.T) {
	sim := simstack.New()
	s := NewServer(sim, nil)
	t.Cleanup(func() { _ = s.Close() })
	gap := NewGAP(sim, s, nil)
	t.Cleanup(func() { _ = gap.Close() })

	require.NoError(t, gap.SetConfig(DefaultGAPConfig("my-device")))
	require.NoError(t, gap.StartAdvertising())
	assert.True(t, gap.IsAdvertising())
	assert.True(t, sim.IsAdvertising())

	require.NoError(t, gap.StopAdvertising())
	assert.False(t, gap.IsAdvertising())
	assert.False(t, sim.IsAdvertising())
}

func TestGAPRunAutoAdvertiseRequiresMaxConnections(t *testing.T) {
	sim := simstack.New()
	s := NewServer(sim, nil)
	t.Cleanup(func() { _ = s.Close() })
	gap := NewGAP(sim, s, nil)
	t.Cleanup(func() { _ = gap.Close() })

	require.NoError(t, gap.SetConfig(DefaultGAPConfig("no-limit")))
	err := gap.RunAutoAdvertise()
	assert.Error(t, err)
}
