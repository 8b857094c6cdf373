package gatt

import (
	"sync"
	"time"

	"github.com/dk731/go-bluedroid/hoststack"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// correlationTimeout is the fixed timeout every correlated request
// operation blocks for (§4.2, §5).
const correlationTimeout = 5 * time.Second

// router is the event-kind keyed correlation table described in §4.2. It
// is generic over the owned event type (GattsEvent or GapEvent) so the
// GATT server and the GAP manager each get their own instance without
// duplicating the bookkeeping.
//
// Lock ordering (§5, §9): router is the outermost lock in the hierarchy;
// code holding any other lock described in this package must never
// acquire the router's mu.
type router[E any] struct {
	mu      sync.RWMutex
	waiters map[hoststack.EventKind]chan E
	log     *logrus.Entry

	// callMu serializes correlated round-trips through this router
	// instance. The per-kind map already forbids two simultaneous
	// waiters for the *same* kind (§4.2 invariant); callMu turns what
	// would otherwise be a hard failure for concurrent callers of the
	// same kind into an ordinary queueing wait, which is simpler to
	// reason about than sharding a mutex per kind for a peripheral that
	// talks to a handful of connections at a time.
	callMu sync.Mutex
}

func newRouter[E any](log *logrus.Entry) *router[E] {
	return &router[E]{
		waiters: make(map[hoststack.EventKind]chan E),
		log:     log,
	}
}

// install registers a capacity-1 waiter for kind. It returns an error if
// one is already installed, preserving the "at most one sender per
// event-kind" invariant (§4.2).
func (r *router[E]) install(kind hoststack.EventKind) (chan E, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.waiters[kind]; exists {
		return nil, errors.Errorf("router: waiter already installed for kind %v", kind)
	}
	ch := make(chan E, 1)
	r.waiters[kind] = ch
	return ch, nil
}

// remove unregisters the waiter for kind, if any. Correlated operations
// must call this before returning, in every path: success, error, and
// timeout (§4.2 invariant).
func (r *router[E]) remove(kind hoststack.EventKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, kind)
}

// dispatch delivers ev to the waiter installed for kind, if any. It
// returns true if a waiter was found and the send did not block (the
// channel has capacity 1 and a correlated operation never double-sends,
// so this should never need to drop). Unrecognized or unwaited kinds are
// the caller's responsibility to log and drop per §4.2.
func (r *router[E]) dispatch(kind hoststack.EventKind, ev E) bool {
	r.mu.RLock()
	ch, ok := r.waiters[kind]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		r.log.WithField("kind", kind).Warn("router: waiter channel full, dropping event")
		return false
	}
}

// await installs a waiter for kind, issues do() (the host stack call),
// and blocks for the reply up to correlationTimeout. The waiter is always
// removed before await returns.
func await[E any](r *router[E], kind hoststack.EventKind, do func() error) (E, error) {
	r.callMu.Lock()
	defer r.callMu.Unlock()

	var zero E
	ch, err := r.install(kind)
	if err != nil {
		return zero, err
	}
	defer r.remove(kind)

	if err := do(); err != nil {
		return zero, errors.Wrap(ErrHostStack, err.Error())
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-time.After(correlationTimeout):
		return zero, errors.Wrapf(ErrTimeout, "waiting for event kind %v", kind)
	}
}
