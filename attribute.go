package gatt

import (
	"sync"

	"github.com/pkg/errors"
)

// Update is a single (old, new) snapshot delivered on an attribute's
// update stream (§3, §4.5).
type Update[T any] struct {
	Old T
	New T
}

// registeredAttribute is the type-erased capability the global registry
// and the per-service/per-characteristic child maps store (§3, §9): the
// registry indexes attributes by handle without caring about their
// concrete value type.
type registeredAttribute interface {
	attrUUID() UUID
	attrHandle() (uint16, bool)
	assignHandle(h uint16) error
	attrBytes() ([]byte, error)
	applyBytes(b []byte) error
	readable() bool
	writable() bool
}

// Attribute is the universal value cell (§3, §4.5): an owned typed
// payload with a codec, an optional host-stack-assigned handle set
// exactly once, and a lazy, non-restartable update sequence.
type Attribute[T any] struct {
	mu    sync.RWMutex
	value T
	codec Codec[T]

	handleMu sync.RWMutex
	handle   *uint16

	updates   chan Update[T]
	notifyHook func(handle uint16, bytes []byte) error
}

// NewAttribute constructs an attribute cell with the given codec and
// initial value. The update stream has capacity 1 with drop-oldest
// semantics (§4.5, §5): it is a notification channel, not a durable log,
// so a consumer that falls behind observes only the most recent value.
func NewAttribute[T any](codec Codec[T], initial T) *Attribute[T] {
	return &Attribute[T]{
		value:   initial,
		codec:   codec,
		updates: make(chan Update[T], 1),
	}
}

// Value returns the attribute's current typed value.
func (a *Attribute[T]) Value() T {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value
}

// Updates returns the attribute's (old, new) notification stream.
func (a *Attribute[T]) Updates() <-chan Update[T] {
	return a.updates
}

// Set replaces the attribute's value, publishes a notification, and — if
// a notify hook is bound (characteristics bind one at registration, §4.7)
// — invokes it with the newly encoded bytes so the server can drive
// notify/indicate. Set is the single path through which both
// application-originated updates (update_value) and peer-originated
// writes converge, satisfying the "happens-after" ordering guarantee in
// §5: readers after Set observe the new value.
func (a *Attribute[T]) Set(v T) error {
	encoded, err := a.codec.Encode(v)
	if err != nil {
		return errors.Wrap(ErrCodec, err.Error())
	}

	a.mu.Lock()
	old := a.value
	a.value = v
	hook := a.notifyHook
	a.mu.Unlock()

	a.publish(Update[T]{Old: old, New: v})

	if hook != nil {
		handle, ok := a.attrHandle()
		if !ok {
			return nil
		}
		return hook(handle, encoded)
	}
	return nil
}

// publish delivers u to the update channel, dropping the oldest queued
// update if the channel is already full (capacity-1 drop-oldest, §4.5).
func (a *Attribute[T]) publish(u Update[T]) {
	select {
	case a.updates <- u:
		return
	default:
	}
	select {
	case <-a.updates:
	default:
	}
	select {
	case a.updates <- u:
	default:
	}
}

func (a *Attribute[T]) setNotifyHook(fn func(handle uint16, bytes []byte) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifyHook = fn
}

func (a *Attribute[T]) attrUUID() UUID { return UUID{} } // overridden by embedders

func (a *Attribute[T]) attrHandle() (uint16, bool) {
	a.handleMu.RLock()
	defer a.handleMu.RUnlock()
	if a.handle == nil {
		return 0, false
	}
	return *a.handle, true
}

// assignHandle sets the attribute's handle exactly once (§3 invariant);
// assigning twice is a programmer error and returns an error rather than
// panicking, so a misbehaving registration path fails the operation
// instead of corrupting shared state.
func (a *Attribute[T]) assignHandle(h uint16) error {
	a.handleMu.Lock()
	defer a.handleMu.Unlock()
	if a.handle != nil {
		return errors.Errorf("attribute handle already assigned (%d)", *a.handle)
	}
	a.handle = &h
	return nil
}

func (a *Attribute[T]) attrBytes() ([]byte, error) {
	a.mu.RLock()
	v := a.value
	a.mu.RUnlock()
	b, err := a.codec.Encode(v)
	if err != nil {
		return nil, errors.Wrap(ErrCodec, err.Error())
	}
	return b, nil
}

func (a *Attribute[T]) applyBytes(b []byte) error {
	v, err := a.codec.Decode(b)
	if err != nil {
		return errors.Wrap(ErrCodec, err.Error())
	}
	return a.Set(v)
}
