package gatt

import (
	"sync/atomic"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CharacteristicConfig configures a characteristic at registration (§3,
// §4.6).
type CharacteristicConfig struct {
	UUID         UUID
	ValueMaxLen  int
	Readable     bool
	Writable     bool
	Broadcasted  bool
	EnableNotify bool
	Description  *string
}

// characteristicEntry is the type-erased state a Characteristic[T] shares
// with Service and the GATT server core: the descriptor map, the weak
// back-reference to the owning service, and the registeredAttribute view
// of the characteristic itself, none of which need the value type T (§9,
// "dynamic dispatch over heterogeneous value types").
type characteristicEntry struct {
	uuid        UUID
	config      CharacteristicConfig
	self        registeredAttribute
	descriptors *orderedmap.OrderedMap[UUID, registeredAttribute]
	service     atomic.Pointer[serviceEntry]
	torndown    atomic.Bool
}

func (e *characteristicEntry) service_() (*serviceEntry, error) {
	s := e.service.Load()
	if s == nil || s.torndown.Load() {
		return nil, ErrMissingLifetime
	}
	return s, nil
}

// Characteristic is an Attribute with permissions, properties, automatic
// standard descriptors, and notify/indicate support (§3). The type
// parameter T is the application's typed view of the characteristic's
// value; the server's registry and a characteristic's own descriptor map
// only ever see the type-erased registeredAttribute capability.
type Characteristic[T any] struct {
	*Attribute[T]
	entry *characteristicEntry
}

// NewCharacteristic constructs a characteristic with its automatic
// descriptors wired per the rules in §3/§4.6:
//
//	enable_notify => CCCD (0x2902, u16, read+write, initial 0x0000)
//	broadcasted   => SCCD (0x2903, u16, read+write, initial 0x0001)
//	description   => User Description (0x2901, UTF-8, read-only)
//
// User-supplied descriptors are appended after the automatic ones, in
// call order; a user UUID colliding with an auto-UUID is an error.
func NewCharacteristic[T any](cfg CharacteristicConfig, codec Codec[T], initial T, userDescriptors ...DescriptorConfig) (*Characteristic[T], error) {
	attr := NewAttribute(codec, initial)
	entry := &characteristicEntry{
		uuid:        cfg.UUID,
		config:      cfg,
		descriptors: orderedmap.New[UUID, registeredAttribute](),
	}
	c := &Characteristic[T]{Attribute: attr, entry: entry}
	entry.self = c

	if cfg.EnableNotify {
		d := newCCCD()
		d.owner.Store(entry)
		entry.descriptors.Set(d.UUID(), d)
	}
	if cfg.Broadcasted {
		d := newSCCD()
		d.owner.Store(entry)
		entry.descriptors.Set(d.UUID(), d)
	}
	if cfg.Description != nil {
		d := newUserDescription(*cfg.Description)
		d.owner.Store(entry)
		entry.descriptors.Set(d.UUID(), d)
	}

	for _, dc := range userDescriptors {
		if _, exists := entry.descriptors.Get(dc.UUID); exists {
			return nil, errors.Errorf("characteristic %s: descriptor %s collides with an automatic descriptor", cfg.UUID, dc.UUID)
		}
		d := newDescriptor(dc, Bytes(), nil)
		d.owner.Store(entry)
		entry.descriptors.Set(dc.UUID, d)
	}

	c.setNotifyHook(func(handle uint16, bytes []byte) error {
		return c.notify(handle, bytes)
	})

	return c, nil
}

// UUID returns the characteristic's UUID.
func (c *Characteristic[T]) UUID() UUID { return c.entry.uuid }

func (c *Characteristic[T]) attrUUID() UUID { return c.entry.uuid }
func (c *Characteristic[T]) readable() bool { return c.entry.config.Readable }
func (c *Characteristic[T]) writable() bool { return c.entry.config.Writable }

// Descriptor returns the descriptor keyed by uuid, and whether it was
// found. The first return narrows to the type-erased registeredAttribute
// capability; application code that needs the typed view should keep its
// own reference to a descriptor constructed with a known T, since
// auto-descriptors are fixed-type (uint16 or string) by construction.
func (c *Characteristic[T]) Descriptor(uuid UUID) (registeredAttribute, bool) {
	return c.entry.descriptors.Get(uuid)
}

// UpdateValue sets the characteristic's value and triggers notify/indicate
// to every connection of the owning application (§4.7, §6). Calling it
// twice with the same value produces two update notifications — it is
// deliberately not idempotent (§8).
func (c *Characteristic[T]) UpdateValue(v T) error {
	return c.Set(v)
}

// notify is installed as the attribute's notify hook (§4.5, §4.7); it is
// filled in properly once the characteristic is registered with a GATT
// server (server.go bindNotify), which is the only component with access
// to the owning application's connections and the host stack. Before
// registration it is a no-op so application code may call UpdateValue
// freely while composing the object graph.
func (c *Characteristic[T]) notify(handle uint16, bytes []byte) error {
	return nil
}

// bindNotify rebinds the characteristic's notify hook, used by the GATT
// server once the characteristic has a handle and an owning application.
func (c *Characteristic[T]) bindNotify(fn func(handle uint16, bytes []byte) error) {
	c.setNotifyHook(fn)
}
