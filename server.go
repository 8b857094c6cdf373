package gatt

import (
	"sync"

	"github.com/dk731/go-bluedroid/hoststack"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxAttrLen is the host stack's maximum attribute length (§9); a
// prepare-write chunk that would grow a buffer past this is rejected with
// CodecError instead of growing the buffer unboundedly.
const maxAttrLen = 512

// Status bytes for the ATT-level read/write/exec-write protocol (§4.7).
const (
	StatusSuccess uint8 = 0x00
	StatusError   uint8 = 0x01
)

// Server is the GATT Server Core (§1, §4): the global attribute index,
// the event router, and the connection-aware read/write/prepare engine,
// all multiplexed off a single subscription to the host stack's event
// stream (§4.2, §4.7).
type Server struct {
	host hoststack.Host
	log  *logrus.Entry

	registry    *attributeRegistry
	gattsRouter *router[GattsEvent]

	appsMu     sync.RWMutex
	apps       map[uint16]*applicationEntry
	appsByIf   map[uint16]*applicationEntry

	prepareMu      sync.Mutex
	prepareBuffers map[uint32]*prepareBuffer

	statusMu   sync.Mutex
	statusSubs []chan ConnectionStatus

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewServer constructs a GATT server core over host and starts its
// dispatcher (§4.7, §5: "a dedicated thread drains the long-lived event
// receiver"). The server subscribes to host's GATTS events exactly once.
func NewServer(host hoststack.Host, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		host:           host,
		log:            log.WithField("component", "gatts"),
		registry:       newAttributeRegistry(),
		gattsRouter:    newRouter[GattsEvent](log.WithField("component", "gatts-router")),
		apps:           make(map[uint16]*applicationEntry),
		appsByIf:       make(map[uint16]*applicationEntry),
		prepareBuffers: make(map[uint32]*prepareBuffer),
		quit:           make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Close stops the server's dispatcher. It does not close the underlying
// host stack, which the BLE facade owns.
func (s *Server) Close() error {
	close(s.quit)
	s.wg.Wait()
	return nil
}

// AttributeCount returns the number of attributes currently in the global
// registry; used by tests asserting the registry invariant (§8).
func (s *Server) AttributeCount() int { return s.registry.len() }

// ConnectionCount returns the total number of open connections across
// every registered application, used by the GAP manager's auto-advertise
// loop (§4.4).
func (s *Server) ConnectionCount() int {
	s.appsMu.RLock()
	defer s.appsMu.RUnlock()
	total := 0
	for _, app := range s.apps {
		total += app.connectionCount()
	}
	return total
}

// Subscribe returns a server-wide ConnectionStatus channel (§3, §4.4):
// the GAP auto-advertising loop is one consumer, but any number of
// subscribers may listen. The channel is buffered and non-blocking on
// the sender's side; slow subscribers may miss statuses under load.
func (s *Server) Subscribe() <-chan ConnectionStatus {
	ch := make(chan ConnectionStatus, 8)
	s.statusMu.Lock()
	s.statusSubs = append(s.statusSubs, ch)
	s.statusMu.Unlock()
	return ch
}

func (s *Server) publishConnectionStatus(cs ConnectionStatus) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for _, ch := range s.statusSubs {
		select {
		case ch <- cs:
		default:
			s.log.Warn("connection status subscriber is full, dropping")
		}
	}
}

// RegisterApp registers a new GATT application with the host stack (§4.6
// "App register"). On success, the returned Application's GattInterface
// is stable for its lifetime.
func (s *Server) RegisterApp(appID uint16) (*Application, error) {
	ev, err := await(s.gattsRouter, hoststack.EventAppRegistered, func() error {
		return s.host.RegisterApp(appID)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "register app %d", appID)
	}
	if ev.AppID != appID {
		return nil, errors.Wrapf(ErrIdentityMismatch, "register app: want app_id %d, got %d", appID, ev.AppID)
	}
	if ev.Status != StatusSuccess {
		return nil, errors.Wrapf(ErrStatusNotOk, "register app %d: status %d", appID, ev.Status)
	}

	entry := &applicationEntry{
		id:          appID,
		services:    make(map[ServiceID]*serviceEntry),
		connections: make(map[uint16]*Connection),
	}
	entry.server.Store(s)
	gattIf := ev.GattIf
	entry.gattInterface = &gattIf

	s.appsMu.Lock()
	s.apps[appID] = entry
	s.appsByIf[gattIf] = entry
	s.appsMu.Unlock()

	return &Application{entry: entry}, nil
}

func (s *Server) appByInterface(gattIf uint16) (*applicationEntry, bool) {
	s.appsMu.RLock()
	defer s.appsMu.RUnlock()
	a, ok := s.appsByIf[gattIf]
	return a, ok
}

// AddService registers svc under app (§4.6 "Service create"). It must be
// called before any characteristics are added to svc.
func (s *Server) AddService(app *Application, svc *Service) error {
	gattIf, ok := app.entry.gattIf()
	if !ok {
		return errors.Wrap(ErrMissingLifetime, "application has no gatt interface yet")
	}

	id := svc.entry.id
	ev, err := await(s.gattsRouter, hoststack.EventServiceCreated, func() error {
		return s.host.CreateService(gattIf, id.UUID, id.InstanceID, id.IsPrimary, svc.entry.requestedHandleCount)
	})
	if err != nil {
		return errors.Wrapf(err, "create service %s", id.UUID)
	}
	if ev.ServiceUUID != id.UUID || ev.InstanceID != id.InstanceID {
		return errors.Wrapf(ErrIdentityMismatch, "create service: reply did not match request for %s", id.UUID)
	}
	if ev.Status != StatusSuccess {
		return errors.Wrapf(ErrStatusNotOk, "create service %s: status %d", id.UUID, ev.Status)
	}

	handle := ev.ServiceHandle
	svc.entry.handleMu.Lock()
	svc.entry.handle = &handle
	svc.entry.handleMu.Unlock()
	svc.entry.app.Store(app.entry)

	app.entry.servicesMu.Lock()
	app.entry.services[id] = svc.entry
	app.entry.servicesMu.Unlock()

	return nil
}

// AddCharacteristic registers a characteristic under svc (§4.6
// "Characteristic add") and then registers its automatic and
// user-supplied descriptors, in order: CCCD, SCCD, User Description, then
// user-supplied (§3, §4.6). AddCharacteristic is a free function, not a
// method, because Go methods cannot carry their own type parameters.
func AddCharacteristic[T any](s *Server, svc *Service, cfg CharacteristicConfig, codec Codec[T], initial T, userDescriptors ...DescriptorConfig) (*Characteristic[T], error) {
	serviceHandle, ok := svc.entry.handleValue()
	if !ok {
		return nil, errors.Wrap(ErrMissingLifetime, "service has not been created yet")
	}
	app, err := svc.entry.app_()
	if err != nil {
		return nil, err
	}
	if _, ok := app.gattIf(); !ok {
		return nil, errors.Wrap(ErrMissingLifetime, "application has no gatt interface yet")
	}

	c, err := NewCharacteristic(cfg, codec, initial, userDescriptors...)
	if err != nil {
		return nil, err
	}
	c.entry.service.Store(svc.entry)

	def := hoststack.CharDef{
		UUID:      cfg.UUID,
		MaxLen:    cfg.ValueMaxLen,
		Readable:  cfg.Readable,
		Writable:  cfg.Writable,
		Broadcast: cfg.Broadcasted,
		Notify:    cfg.EnableNotify,
		Indicate:  cfg.EnableNotify,
	}
	ev, err := await(s.gattsRouter, hoststack.EventCharacteristicAdded, func() error {
		return s.host.AddCharacteristic(serviceHandle, def)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "add characteristic %s", cfg.UUID)
	}
	if ev.CharUUID != cfg.UUID || ev.ServiceHandle != serviceHandle {
		return nil, errors.Wrapf(ErrIdentityMismatch, "add characteristic %s: reply did not match request", cfg.UUID)
	}
	if ev.Status != StatusSuccess {
		return nil, errors.Wrapf(ErrStatusNotOk, "add characteristic %s: status %d", cfg.UUID, ev.Status)
	}
	if err := c.assignHandle(ev.AttrHandle); err != nil {
		return nil, err
	}
	s.registry.insert(ev.AttrHandle, c)

	for pair := c.entry.descriptors.Oldest(); pair != nil; pair = pair.Next() {
		if err := s.addDescriptor(serviceHandle, pair.Value); err != nil {
			return nil, errors.Wrapf(err, "add descriptor %s of characteristic %s", pair.Key, cfg.UUID)
		}
	}

	svc.entry.charsMu.Lock()
	svc.entry.characteristics.Set(ev.AttrHandle, c.entry)
	svc.entry.charsMu.Unlock()

	charHandle := ev.AttrHandle
	c.bindNotify(func(handle uint16, bytes []byte) error {
		return s.indicateAll(app, charHandle, bytes)
	})

	return c, nil
}

func (s *Server) addDescriptor(serviceHandle uint16, attr registeredAttribute) error {
	def := hoststack.DescDef{
		UUID:     attr.attrUUID(),
		Readable: attr.readable(),
		Writable: attr.writable(),
	}
	ev, err := await(s.gattsRouter, hoststack.EventDescriptorAdded, func() error {
		return s.host.AddDescriptor(serviceHandle, def)
	})
	if err != nil {
		return err
	}
	if ev.DescUUID != attr.attrUUID() || ev.ServiceHandle != serviceHandle {
		return errors.Wrapf(ErrIdentityMismatch, "add descriptor %s: reply did not match request", attr.attrUUID())
	}
	if ev.Status != StatusSuccess {
		return errors.Wrapf(ErrStatusNotOk, "add descriptor %s: status %d", attr.attrUUID(), ev.Status)
	}
	if err := attr.assignHandle(ev.AttrHandle); err != nil {
		return err
	}
	s.registry.insert(ev.AttrHandle, attr)
	return nil
}

// StartService starts svc (§4.6 "Service start"). Allowed from Created or
// Stopped (restart); any other current state is an error.
func (s *Server) StartService(svc *Service) error {
	state := svc.entry.currentState()
	if state != ServiceCreated && state != ServiceStopped {
		return errors.Wrapf(errServiceNotStartable, "service %s is %s", svc.entry.id.UUID, state)
	}
	handle, ok := svc.entry.handleValue()
	if !ok {
		return errors.Wrap(ErrMissingLifetime, "service has not been created yet")
	}

	ev, err := await(s.gattsRouter, hoststack.EventServiceStarted, func() error {
		return s.host.StartService(handle)
	})
	if err != nil {
		return errors.Wrapf(err, "start service %s", svc.entry.id.UUID)
	}
	if ev.ServiceHandle != handle {
		return errors.Wrapf(ErrIdentityMismatch, "start service: reply handle %d != %d", ev.ServiceHandle, handle)
	}
	if ev.Status != StatusSuccess {
		return errors.Wrapf(ErrStatusNotOk, "start service %s: status %d", svc.entry.id.UUID, ev.Status)
	}

	svc.entry.state.Store(int32(ServiceStarted))
	return nil
}

// StopService stops svc (§4.6 "Service stop"). Allowed only from Started.
func (s *Server) StopService(svc *Service) error {
	if svc.entry.currentState() != ServiceStarted {
		return errors.Wrapf(errServiceNotStoppable, "service %s is %s", svc.entry.id.UUID, svc.entry.currentState())
	}
	handle, ok := svc.entry.handleValue()
	if !ok {
		return errors.Wrap(ErrMissingLifetime, "service has not been created yet")
	}

	ev, err := await(s.gattsRouter, hoststack.EventServiceStopped, func() error {
		return s.host.StopService(handle)
	})
	if err != nil {
		return errors.Wrapf(err, "stop service %s", svc.entry.id.UUID)
	}
	if ev.ServiceHandle != handle {
		return errors.Wrapf(ErrIdentityMismatch, "stop service: reply handle %d != %d", ev.ServiceHandle, handle)
	}
	if ev.Status != StatusSuccess {
		return errors.Wrapf(ErrStatusNotOk, "stop service %s: status %d", svc.entry.id.UUID, ev.Status)
	}

	svc.entry.state.Store(int32(ServiceStopped))
	return nil
}

// DeleteService tears svc down: it removes its characteristics and
// descriptors from the global registry and marks the service and its
// children unreachable through their weak back-references (§3, §9).
// Deletion is terminal (§3).
func (s *Server) DeleteService(svc *Service) error {
	svc.entry.torndown.Store(true)
	for pair := svc.entry.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		ce := pair.Value
		ce.torndown.Store(true)
		if h, ok := ce.self.attrHandle(); ok {
			s.registry.remove(h)
		}
		for dpair := ce.descriptors.Oldest(); dpair != nil; dpair = dpair.Next() {
			if h, ok := dpair.Value.attrHandle(); ok {
				s.registry.remove(h)
			}
		}
	}
	svc.entry.state.Store(int32(ServiceDeleted))

	if app, err := svc.entry.app_(); err == nil {
		app.servicesMu.Lock()
		delete(app.services, svc.entry.id)
		app.servicesMu.Unlock()
	}
	return nil
}

// prepareBuffer accumulates chunks of a multi-request prepare-write
// transaction, keyed by transfer id (§4.7, §5, §9).
type prepareBuffer struct {
	handle uint16
	value  []byte
}

func (b *prepareBuffer) growTo(n int) {
	if n <= len(b.value) {
		return
	}
	grown := make([]byte, n)
	copy(grown, b.value)
	b.value = grown
}

func (s *Server) getOrCreatePrepareBuffer(transferID uint32, handle uint16) *prepareBuffer {
	s.prepareMu.Lock()
	defer s.prepareMu.Unlock()
	b, ok := s.prepareBuffers[transferID]
	if !ok {
		b = &prepareBuffer{handle: handle}
		s.prepareBuffers[transferID] = b
	}
	return b
}

func (s *Server) getPrepareBuffer(transferID uint32) (*prepareBuffer, bool) {
	s.prepareMu.Lock()
	defer s.prepareMu.Unlock()
	b, ok := s.prepareBuffers[transferID]
	return b, ok
}

func (s *Server) dropPrepareBuffer(transferID uint32) {
	s.prepareMu.Lock()
	defer s.prepareMu.Unlock()
	delete(s.prepareBuffers, transferID)
}
