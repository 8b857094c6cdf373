package gatt

import "sync/atomic"

// DescriptorConfig configures a descriptor attached to a characteristic
// (§3, §4.6).
type DescriptorConfig struct {
	UUID     UUID
	Readable bool
	Writable bool
}

// Descriptor is an Attribute decorating a characteristic (§3): a typed
// value cell plus its config and a weak back-reference to the owning
// characteristic.
type Descriptor[T any] struct {
	*Attribute[T]
	config DescriptorConfig

	owner atomic.Pointer[characteristicEntry]
}

func newDescriptor[T any](cfg DescriptorConfig, codec Codec[T], initial T) *Descriptor[T] {
	return &Descriptor[T]{
		Attribute: NewAttribute(codec, initial),
		config:    cfg,
	}
}

// UUID returns the descriptor's UUID.
func (d *Descriptor[T]) UUID() UUID { return d.config.UUID }

func (d *Descriptor[T]) attrUUID() UUID { return d.config.UUID }
func (d *Descriptor[T]) readable() bool { return d.config.Readable }
func (d *Descriptor[T]) writable() bool { return d.config.Writable }

// characteristic upgrades the descriptor's weak back-reference to its
// owning characteristic entry. It fails with ErrMissingLifetime if the
// characteristic has since been torn down (§3, §9).
func (d *Descriptor[T]) characteristic() (*characteristicEntry, error) {
	owner := d.owner.Load()
	if owner == nil || owner.torndown.Load() {
		return nil, ErrMissingLifetime
	}
	return owner, nil
}

func newCCCD() *Descriptor[uint16] {
	return newDescriptor(DescriptorConfig{
		UUID:     UUIDClientCharacteristicConfig,
		Readable: true,
		Writable: true,
	}, U16(), 0x0000)
}

func newSCCD() *Descriptor[uint16] {
	return newDescriptor(DescriptorConfig{
		UUID:     UUIDServerCharacteristicConfig,
		Readable: true,
		Writable: true,
	}, U16(), 0x0001)
}

func newUserDescription(text string) *Descriptor[string] {
	return newDescriptor(DescriptorConfig{
		UUID:     UUIDCharacteristicUserDescription,
		Readable: true,
		Writable: false,
	}, String(), text)
}
