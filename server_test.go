package gatt

import (
	"bytes"
	"testing"
	"time"

	"github.com/dk731/go-bluedroid/hoststack/simstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *simstack.Sim) {
	t.Helper()
	sim := simstack.New()
	s := NewServer(sim, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, sim
}

// eventually polls cond until it is true or the deadline passes; the
// simulator answers every request on its own goroutine, so tests observe
// registration results asynchronously just like against real hardware.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition did not become true in time")
}

func TestScenarioRegisterAndStart(t *testing.T) {
	s, _ := newTestServer(t)

	app, err := s.RegisterApp(0)
	require.NoError(t, err)

	svcUUID := UUID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	svc := NewService(ServiceID{UUID: svcUUID, IsPrimary: true}, 10)
	require.NoError(t, s.AddService(app, svc))
	_, ok := svc.Handle()
	assert.True(t, ok)

	charUUID := UUID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}
	c, err := AddCharacteristic(s, svc, CharacteristicConfig{
		UUID:         charUUID,
		Readable:     true,
		Writable:     true,
		EnableNotify: true,
	}, U16(), 0)
	require.NoError(t, err)

	_, ok = c.attrHandle()
	assert.True(t, ok)
	cccd, ok := c.Descriptor(UUIDClientCharacteristicConfig)
	require.True(t, ok)
	_, ok = cccd.attrHandle()
	assert.True(t, ok)

	require.NoError(t, s.StartService(svc))
	assert.Equal(t, ServiceStarted, svc.State())
}

func TestScenarioReadWithSmallMTU(t *testing.T) {
	s, sim := newTestServer(t)
	app, err := s.RegisterApp(1)
	require.NoError(t, err)

	svc := NewService(ServiceID{UUID: UUID16(0x1111), IsPrimary: true}, 4)
	require.NoError(t, s.AddService(app, svc))

	value := bytes.Repeat([]byte{0xAB}, 40)
	c, err := AddCharacteristic(s, svc, CharacteristicConfig{
		UUID:     UUID16(0x2222),
		Readable: true,
	}, Bytes(), value)
	require.NoError(t, err)
	handle, _ := c.attrHandle()

	gattIf, _ := app.GattInterface()
	sim.SimulateConnect(gattIf, 1, [6]byte{1, 2, 3, 4, 5, 6}, 0)
	eventually(t, func() bool { return app.entry.connectionCount() == 1 })
	sim.SimulateMtu(gattIf, 1, 23)
	eventually(t, func() bool {
		_, conn, ok := s.applicationForConn(1)
		if !ok {
			return false
		}
		_, negotiated := conn.NegotiatedMTU()
		return negotiated
	})

	sim.SimulateRead(gattIf, 1, 99, handle, 0)
	eventually(t, func() bool {
		_, ok := sim.LastResponse(99)
		return ok
	})

	resp, _ := sim.LastResponse(99)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, value[:22], resp.Value, "read must be truncated to negotiated MTU (23) minus one")
}

func TestScenarioPreparedWriteAssembly(t *testing.T) {
	s, sim := newTestServer(t)
	app, err := s.RegisterApp(2)
	require.NoError(t, err)
	svc := NewService(ServiceID{UUID: UUID16(0x3333), IsPrimary: true}, 4)
	require.NoError(t, s.AddService(app, svc))

	c, err := AddCharacteristic(s, svc, CharacteristicConfig{
		UUID:     UUID16(0x4444),
		Writable: true,
	}, Bytes(), []byte{})
	require.NoError(t, err)
	handle, _ := c.attrHandle()
	gattIf, _ := app.GattInterface()

	chunk := func(b byte) []byte { return bytes.Repeat([]byte{b}, 10) }
	sim.SimulateWrite(gattIf, 1, 7, handle, chunk(0x01), 0, true, true)
	sim.SimulateWrite(gattIf, 1, 7, handle, chunk(0x02), 10, true, true)
	sim.SimulateWrite(gattIf, 1, 7, handle, chunk(0x03), 20, true, true)
	sim.SimulateExecWrite(gattIf, 1, 7, false)

	want := append(append(chunk(0x01), chunk(0x02)...), chunk(0x03)...)
	eventually(t, func() bool { return bytes.Equal(c.Value(), want) })

	_, exists := s.getPrepareBuffer(7)
	eventually(t, func() bool { _, exists = s.getPrepareBuffer(7); return !exists })
	assert.False(t, exists)
}

func TestScenarioPreparedWriteCancel(t *testing.T) {
	s, sim := newTestServer(t)
	app, err := s.RegisterApp(3)
	require.NoError(t, err)
	svc := NewService(ServiceID{UUID: UUID16(0x5555), IsPrimary: true}, 4)
	require.NoError(t, s.AddService(app, svc))

	initial := []byte{0x00, 0x00}
	c, err := AddCharacteristic(s, svc, CharacteristicConfig{
		UUID:     UUID16(0x6666),
		Writable: true,
	}, Bytes(), initial)
	require.NoError(t, err)
	handle, _ := c.attrHandle()
	gattIf, _ := app.GattInterface()

	sim.SimulateWrite(gattIf, 1, 8, handle, []byte{0xFF, 0xFF}, 0, true, true)
	sim.SimulateExecWrite(gattIf, 1, 8, true)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, initial, c.Value())
	_, exists := s.getPrepareBuffer(8)
	assert.False(t, exists)
}

func TestScenarioAutoAdvertiseOnDisconnect(t *testing.T) {
	s, sim := newTestServer(t)
	gap := NewGAP(sim, s, nil)
	t.Cleanup(func() { _ = gap.Close() })

	app, err := s.RegisterApp(4)
	require.NoError(t, err)
	max := 1
	require.NoError(t, gap.SetConfig(GAPConfig{DeviceName: "d", MaxConnections: &max}))
	require.NoError(t, gap.RunAutoAdvertise())

	eventually(t, gap.IsAdvertising)

	gattIf, _ := app.GattInterface()
	sim.SimulateConnect(gattIf, 1, [6]byte{}, 0)
	eventually(t, func() bool { return !gap.IsAdvertising() })

	sim.SimulateDisconnect(gattIf, 1)
	eventually(t, gap.IsAdvertising)
}

func TestScenarioIndicateToTwoPeersWithDifferingMTUs(t *testing.T) {
	s, sim := newTestServer(t)
	app, err := s.RegisterApp(5)
	require.NoError(t, err)
	svc := NewService(ServiceID{UUID: UUID16(0x7777), IsPrimary: true}, 4)
	require.NoError(t, s.AddService(app, svc))

	c, err := AddCharacteristic(s, svc, CharacteristicConfig{
		UUID:         UUID16(0x8888),
		Readable:     true,
		EnableNotify: true,
	}, Bytes(), []byte{})
	require.NoError(t, err)

	gattIf, _ := app.GattInterface()
	sim.SimulateConnect(gattIf, 1, [6]byte{1}, 0)
	sim.SimulateConnect(gattIf, 2, [6]byte{2}, 0)
	eventually(t, func() bool { return app.entry.connectionCount() == 2 })
	sim.SimulateMtu(gattIf, 1, 23)
	sim.SimulateMtu(gattIf, 2, 100)
	eventually(t, func() bool {
		_, c1, ok1 := s.applicationForConn(1)
		_, c2, ok2 := s.applicationForConn(2)
		if !ok1 || !ok2 {
			return false
		}
		_, m1 := c1.NegotiatedMTU()
		_, m2 := c2.NegotiatedMTU()
		return m1 && m2
	})

	value := bytes.Repeat([]byte{0x09}, 50)
	require.NoError(t, c.UpdateValue(value))

	ind1, ok1 := sim.LastIndicate(1)
	require.True(t, ok1)
	assert.Equal(t, value[:23], ind1, "peer with MTU 23 receives the full MTU, not MTU-1 (§4.7, §8 scenario 6)")

	ind2, ok2 := sim.LastIndicate(2)
	require.True(t, ok2)
	assert.Equal(t, value, ind2, "peer with MTU 100 receives the full 50-byte value untruncated")
}

func TestIndicateSkipsConnectionWithUnknownMTU(t *testing.T) {
	s, sim := newTestServer(t)
	app, err := s.RegisterApp(6)
	require.NoError(t, err)
	svc := NewService(ServiceID{UUID: UUID16(0x7779), IsPrimary: true}, 4)
	require.NoError(t, s.AddService(app, svc))

	c, err := AddCharacteristic(s, svc, CharacteristicConfig{
		UUID:         UUID16(0x888A),
		Readable:     true,
		EnableNotify: true,
	}, Bytes(), []byte{})
	require.NoError(t, err)

	gattIf, _ := app.GattInterface()
	sim.SimulateConnect(gattIf, 1, [6]byte{1}, 0)
	sim.SimulateConnect(gattIf, 2, [6]byte{2}, 0)
	eventually(t, func() bool { return app.entry.connectionCount() == 2 })
	// Only connection 2 negotiates an MTU; connection 1 is indicated before
	// negotiation and must be skipped (§4.7, §7 "MtuUnknown | skip that peer").
	sim.SimulateMtu(gattIf, 2, 50)
	eventually(t, func() bool {
		_, conn, ok := s.applicationForConn(2)
		if !ok {
			return false
		}
		_, known := conn.NegotiatedMTU()
		return known
	})

	value := bytes.Repeat([]byte{0x0a}, 10)
	err = c.UpdateValue(value)
	assert.ErrorIs(t, err, ErrMtuUnknown, "aggregated error must surface the skipped peer's MtuUnknown")

	_, indicated := sim.LastIndicate(1)
	assert.False(t, indicated, "connection without a negotiated mtu must never receive host.Indicate")

	ind2, ok2 := sim.LastIndicate(2)
	require.True(t, ok2)
	assert.Equal(t, value, ind2, "the other connection is still indicated despite the skipped peer")
}
