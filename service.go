package gatt

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ServiceID identifies a service instance (§3).
type ServiceID struct {
	UUID       UUID
	InstanceID uint8
	IsPrimary  bool
}

// ServiceState is a service's lifecycle state (§3, §8). Transitions are
// Created -> Started -> Stopped -> Started (restart), with Delete
// terminal from any non-deleted state.
type ServiceState int32

const (
	ServiceCreated ServiceState = iota
	ServiceStarted
	ServiceStopped
	ServiceDeleted
)

func (s ServiceState) String() string {
	switch s {
	case ServiceCreated:
		return "Created"
	case ServiceStarted:
		return "Started"
	case ServiceStopped:
		return "Stopped"
	case ServiceDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// serviceEntry is a Service's shared internal state (§3).
type serviceEntry struct {
	id                   ServiceID
	requestedHandleCount uint16

	handleMu sync.RWMutex
	handle   *uint16

	state atomic.Int32

	charsMu         sync.RWMutex
	characteristics *orderedmap.OrderedMap[uint16, *characteristicEntry]

	app      atomic.Pointer[applicationEntry]
	torndown atomic.Bool
}

func (e *serviceEntry) app_() (*applicationEntry, error) {
	a := e.app.Load()
	if a == nil || a.torndown.Load() {
		return nil, ErrMissingLifetime
	}
	return a, nil
}

func (e *serviceEntry) currentState() ServiceState {
	return ServiceState(e.state.Load())
}

func (e *serviceEntry) handleValue() (uint16, bool) {
	e.handleMu.RLock()
	defer e.handleMu.RUnlock()
	if e.handle == nil {
		return 0, false
	}
	return *e.handle, true
}

// Service is a container of characteristics with a start/stop lifecycle
// (§3). Construct with NewService, then register it with an application
// via Server.AddService before adding characteristics.
type Service struct {
	entry *serviceEntry
}

// NewService constructs an unregistered service. requestedHandleCount
// must be large enough for the service declaration itself plus every
// characteristic and descriptor it will hold (§4.6, "create_service(...,
// n_handles)").
func NewService(id ServiceID, requestedHandleCount uint16) *Service {
	e := &serviceEntry{
		id:                   id,
		requestedHandleCount: requestedHandleCount,
		characteristics:      orderedmap.New[uint16, *characteristicEntry](),
	}
	e.state.Store(int32(ServiceCreated))
	return &Service{entry: e}
}

// ID returns the service's identity.
func (s *Service) ID() ServiceID { return s.entry.id }

// State returns the service's current lifecycle state.
func (s *Service) State() ServiceState { return s.entry.currentState() }

// Handle returns the service's host-stack handle, if registered.
func (s *Service) Handle() (uint16, bool) { return s.entry.handleValue() }

// Characteristics returns the registered characteristics in registration
// order, keyed by their assigned handle.
func (s *Service) Characteristics() *orderedmap.OrderedMap[uint16, *characteristicEntry] {
	s.entry.charsMu.RLock()
	defer s.entry.charsMu.RUnlock()
	return s.entry.characteristics
}

var errServiceNotStartable = errors.New("service is not in Created or Stopped state")
var errServiceNotStoppable = errors.New("service is not in Started state")
