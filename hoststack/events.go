package hoststack

// EventKind identifies the shape of a RawEvent's Payload, and is used
// verbatim as the correlation router's map key (§4.1, §4.2): two events
// with the same Kind but different Payload route through the same slot.
type EventKind int

const (
	EventUnknown EventKind = iota

	// Registration-protocol replies (§4.6), correlated request/response.
	EventAppRegistered
	EventServiceCreated
	EventCharacteristicAdded
	EventDescriptorAdded
	EventServiceStarted
	EventServiceStopped
	EventResponseComplete
	EventConfirm

	// Long-lived, fanned-out events (§4.2, §4.7).
	EventRead
	EventWrite
	EventExecWrite
	EventPeerConnected
	EventPeerDisconnected
	EventMtu

	// GAP events.
	EventAdvertisingStarted
	EventAdvertisingStopped
)

// RawEvent is what the host stack hands to the framework at the callback
// boundary. Byte slices and handle lists referenced here are only valid
// to read for the duration of the call that produced them on a real
// vendor stack (a C callback borrowing transient memory); the framework's
// event taxonomy (GattsEvent/GapEvent) immediately deep-copies them into
// owned values before any cross-goroutine handoff (§4.1, §9).
type RawEvent struct {
	Kind EventKind

	Status      uint8
	AppID       uint16
	GattIf      uint16
	ServiceUUID [16]byte
	InstanceID  uint8
	ServiceHandle uint16
	CharUUID    [16]byte
	DescUUID    [16]byte
	AttrHandle  uint16

	ConnID   uint16
	TransID  uint32
	NeedRsp  bool
	IsPrep   bool
	Canceled bool
	Offset   int
	Value    []byte

	PeerAddress [6]byte
	LinkRole    uint8
	Mtu         uint16

	AdvStatus uint8
}

// Clone deep-copies the event's variable-length fields, so the framework
// can safely retain or forward it past the lifetime of whatever buffer
// the host stack reused to build it.
func (e RawEvent) Clone() RawEvent {
	if e.Value != nil {
		v := make([]byte, len(e.Value))
		copy(v, e.Value)
		e.Value = v
	}
	return e
}
