// Package simstack is an in-memory hoststack.Host implementation. It
// stands in for a vendor BLE controller (e.g. ESP-IDF Bluedroid) so the
// framework, its tests, and the CLI demo can run without real radio
// hardware (§1.1). It replies to every request asynchronously, on its own
// goroutine, the same way a real controller's IPC/callback boundary
// would, so callers relying on the correlation router see realistic
// interleavings rather than a synchronous fake.
package simstack

import (
	"sync"
	"sync/atomic"

	"github.com/dk731/go-bluedroid/hoststack"
)

// Sim is a single simulated controller instance. The zero value is not
// usable; construct with New.
type Sim struct {
	events    chan hoststack.RawEvent
	gapEvents chan hoststack.RawEvent

	mu           sync.Mutex
	nextHandle   uint16
	services     map[uint16]*simService
	deviceName   string
	advConf      hoststack.AdvConf
	advertising  bool

	nextGattIf uint16
	appIfs     map[uint16]uint16 // appID -> gattIf

	lastResponses map[uint32]hoststack.RespPayload
	lastIndicates map[uint16][]byte // connID -> last indicated payload

	// AutoConfirm controls whether a simulated peer automatically confirms
	// indications; tests exercising a confirm timeout can set it false.
	AutoConfirm atomic.Bool
}

type simService struct {
	handle     uint16
	numHandles uint16
	used       uint16
}

// New constructs a simulator with buffered event channels large enough
// for ordinary test traffic without requiring a concurrent reader.
func New() *Sim {
	s := &Sim{
		events:     make(chan hoststack.RawEvent, 64),
		gapEvents:  make(chan hoststack.RawEvent, 64),
		services:      make(map[uint16]*simService),
		appIfs:        make(map[uint16]uint16),
		lastResponses: make(map[uint32]hoststack.RespPayload),
		lastIndicates: make(map[uint16][]byte),
		nextHandle:    1,
	}
	s.AutoConfirm.Store(true)
	return s
}

func (s *Sim) emit(ev hoststack.RawEvent) {
	go func() { s.events <- ev }()
}

func (s *Sim) emitGap(ev hoststack.RawEvent) {
	go func() { s.gapEvents <- ev }()
}

func (s *Sim) Events() <-chan hoststack.RawEvent    { return s.events }
func (s *Sim) GapEvents() <-chan hoststack.RawEvent { return s.gapEvents }

func (s *Sim) RegisterApp(appID uint16) error {
	s.mu.Lock()
	s.nextGattIf++
	gattIf := s.nextGattIf
	s.appIfs[appID] = gattIf
	s.mu.Unlock()

	s.emit(hoststack.RawEvent{
		Kind:   hoststack.EventAppRegistered,
		Status: 0,
		AppID:  appID,
		GattIf: gattIf,
	})
	return nil
}

func (s *Sim) CreateService(gattIf uint16, serviceUUID [16]byte, instanceID uint8, isPrimary bool, numHandles uint16) error {
	s.mu.Lock()
	handle := s.nextHandle
	s.nextHandle++
	s.services[handle] = &simService{handle: handle, numHandles: numHandles, used: 1}
	s.mu.Unlock()

	s.emit(hoststack.RawEvent{
		Kind:          hoststack.EventServiceCreated,
		Status:        0,
		GattIf:        gattIf,
		ServiceUUID:   serviceUUID,
		InstanceID:    instanceID,
		ServiceHandle: handle,
	})
	return nil
}

func (s *Sim) allocHandle(serviceHandle uint16) (uint16, uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceHandle]
	if !ok || svc.used >= svc.numHandles {
		return 0, 1
	}
	h := s.nextHandle
	s.nextHandle++
	svc.used++
	return h, 0
}

func (s *Sim) AddCharacteristic(serviceHandle uint16, def hoststack.CharDef) error {
	handle, status := s.allocHandle(serviceHandle)
	s.emit(hoststack.RawEvent{
		Kind:          hoststack.EventCharacteristicAdded,
		Status:        status,
		ServiceHandle: serviceHandle,
		CharUUID:      def.UUID,
		AttrHandle:    handle,
	})
	return nil
}

func (s *Sim) AddDescriptor(serviceHandle uint16, def hoststack.DescDef) error {
	handle, status := s.allocHandle(serviceHandle)
	s.emit(hoststack.RawEvent{
		Kind:          hoststack.EventDescriptorAdded,
		Status:        status,
		ServiceHandle: serviceHandle,
		DescUUID:      def.UUID,
		AttrHandle:    handle,
	})
	return nil
}

func (s *Sim) StartService(serviceHandle uint16) error {
	s.emit(hoststack.RawEvent{
		Kind:          hoststack.EventServiceStarted,
		Status:        0,
		ServiceHandle: serviceHandle,
	})
	return nil
}

func (s *Sim) StopService(serviceHandle uint16) error {
	s.emit(hoststack.RawEvent{
		Kind:          hoststack.EventServiceStopped,
		Status:        0,
		ServiceHandle: serviceHandle,
	})
	return nil
}

func (s *Sim) SendResponse(gattIf uint16, connID uint16, transID uint32, resp hoststack.RespPayload) error {
	s.mu.Lock()
	s.lastResponses[transID] = resp
	s.mu.Unlock()

	s.emit(hoststack.RawEvent{
		Kind:    hoststack.EventResponseComplete,
		Status:  resp.Status,
		GattIf:  gattIf,
		ConnID:  connID,
		TransID: transID,
	})
	return nil
}

// LastResponse returns the most recent RespPayload sent for transID, for
// test assertions; a real controller has no such introspection point.
func (s *Sim) LastResponse(transID uint32) (hoststack.RespPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lastResponses[transID]
	return r, ok
}

// LastIndicate returns the most recent indicated payload for connID, for
// test assertions; a real controller has no such introspection point.
func (s *Sim) LastIndicate(connID uint16) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lastIndicates[connID]
	return v, ok
}

// Indicate simulates sending an indication/notification to a connected
// peer. When confirm is requested and AutoConfirm is set, a simulated
// EventConfirm arrives shortly after, exactly as a real central's ATT
// confirmation would.
func (s *Sim) Indicate(gattIf uint16, connID uint16, charHandle uint16, value []byte, confirm bool) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	s.lastIndicates[connID] = cp
	s.mu.Unlock()

	if confirm && s.AutoConfirm.Load() {
		s.emit(hoststack.RawEvent{
			Kind:       hoststack.EventConfirm,
			Status:     0,
			GattIf:     gattIf,
			ConnID:     connID,
			AttrHandle: charHandle,
		})
	}
	return nil
}

func (s *Sim) SetDeviceName(name string) error {
	s.mu.Lock()
	s.deviceName = name
	s.mu.Unlock()
	return nil
}

func (s *Sim) SetAdvConf(conf hoststack.AdvConf) error {
	s.mu.Lock()
	s.advConf = conf
	s.mu.Unlock()
	return nil
}

func (s *Sim) StartAdvertising() error {
	s.mu.Lock()
	s.advertising = true
	s.mu.Unlock()
	s.emitGap(hoststack.RawEvent{Kind: hoststack.EventAdvertisingStarted, AdvStatus: 0})
	return nil
}

func (s *Sim) StopAdvertising() error {
	s.mu.Lock()
	s.advertising = false
	s.mu.Unlock()
	s.emitGap(hoststack.RawEvent{Kind: hoststack.EventAdvertisingStopped, AdvStatus: 0})
	return nil
}

// IsAdvertising reports the simulator's current advertising state, for
// test assertions.
func (s *Sim) IsAdvertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// --- test-driving surface: simulated peer actions ---

// SimulateConnect injects a peer-connected event as though a central had
// just completed a link-layer connection.
func (s *Sim) SimulateConnect(gattIf, connID uint16, peerAddr [6]byte, linkRole uint8) {
	s.emit(hoststack.RawEvent{
		Kind:        hoststack.EventPeerConnected,
		GattIf:      gattIf,
		ConnID:      connID,
		PeerAddress: peerAddr,
		LinkRole:    linkRole,
	})
}

// SimulateDisconnect injects a peer-disconnected event.
func (s *Sim) SimulateDisconnect(gattIf, connID uint16) {
	s.emit(hoststack.RawEvent{
		Kind:   hoststack.EventPeerDisconnected,
		GattIf: gattIf,
		ConnID: connID,
	})
}

// SimulateMtu injects an MTU-negotiated event for connID.
func (s *Sim) SimulateMtu(gattIf, connID uint16, mtu uint16) {
	s.emit(hoststack.RawEvent{
		Kind:   hoststack.EventMtu,
		GattIf: gattIf,
		ConnID: connID,
		Mtu:    mtu,
	})
}

// SimulateRead injects a peer read request for handle on connID.
func (s *Sim) SimulateRead(gattIf, connID uint16, transID uint32, handle uint16, offset int) {
	s.emit(hoststack.RawEvent{
		Kind:       hoststack.EventRead,
		GattIf:     gattIf,
		ConnID:     connID,
		TransID:    transID,
		AttrHandle: handle,
		Offset:     offset,
		NeedRsp:    true,
	})
}

// SimulateWrite injects a peer write request for handle on connID. Set
// isPrep for a prepare-write chunk.
func (s *Sim) SimulateWrite(gattIf, connID uint16, transID uint32, handle uint16, value []byte, offset int, isPrep, needRsp bool) {
	s.emit(hoststack.RawEvent{
		Kind:       hoststack.EventWrite,
		GattIf:     gattIf,
		ConnID:     connID,
		TransID:    transID,
		AttrHandle: handle,
		Value:      append([]byte(nil), value...),
		Offset:     offset,
		IsPrep:     isPrep,
		NeedRsp:    needRsp,
	})
}

// SimulateExecWrite injects an execute/cancel-write request, committing
// or discarding the transaction's accumulated prepare buffer.
func (s *Sim) SimulateExecWrite(gattIf, connID uint16, transID uint32, canceled bool) {
	s.emit(hoststack.RawEvent{
		Kind:     hoststack.EventExecWrite,
		GattIf:   gattIf,
		ConnID:   connID,
		TransID:  transID,
		Canceled: canceled,
		NeedRsp:  true,
	})
}
