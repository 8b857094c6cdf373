package gatt

import (
	"sync"
	"sync/atomic"
)

// applicationEntry is an Application's shared internal state (§3).
//
// connections is protected by its own sync.RWMutex per the lock ordering
// in §5/§9 (router -> app.connections -> attribute.value): code holding
// connMu may look up and lock an attribute's value, but never the other
// way around.
type applicationEntry struct {
	id uint16

	gattIfMu      sync.RWMutex
	gattInterface *uint16

	servicesMu sync.RWMutex
	services   map[ServiceID]*serviceEntry

	connMu      sync.RWMutex
	connections map[uint16]*Connection

	server   atomic.Pointer[Server]
	torndown atomic.Bool
}

func (e *applicationEntry) server_() (*Server, error) {
	s := e.server.Load()
	if s == nil {
		return nil, ErrMissingLifetime
	}
	return s, nil
}

func (e *applicationEntry) gattIf() (uint16, bool) {
	e.gattIfMu.RLock()
	defer e.gattIfMu.RUnlock()
	if e.gattInterface == nil {
		return 0, false
	}
	return *e.gattInterface, true
}

func (e *applicationEntry) connectionCount() int {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return len(e.connections)
}

// Application is a registered GATT application: it owns its services and
// the connections of peers currently bound to it (§3).
type Application struct {
	entry *applicationEntry
}

// ID returns the application's identifier.
func (a *Application) ID() uint16 { return a.entry.id }

// GattInterface returns the host-stack-assigned interface id, stable for
// the application's lifetime once registration has completed.
func (a *Application) GattInterface() (uint16, bool) { return a.entry.gattIf() }

// Connections returns a snapshot of the application's current
// connections, keyed by connection id.
func (a *Application) Connections() map[uint16]*Connection {
	a.entry.connMu.RLock()
	defer a.entry.connMu.RUnlock()
	out := make(map[uint16]*Connection, len(a.entry.connections))
	for k, v := range a.entry.connections {
		out[k] = v
	}
	return out
}

// Services returns a snapshot of the application's registered services.
func (a *Application) Services() []*Service {
	a.entry.servicesMu.RLock()
	defer a.entry.servicesMu.RUnlock()
	out := make([]*Service, 0, len(a.entry.services))
	for _, se := range a.entry.services {
		out = append(out, &Service{entry: se})
	}
	return out
}
