package gatt

import "github.com/dk731/go-bluedroid/hoststack"

// GattsEvent is the core's owned copy of a GATTS RawEvent, taken at the
// callback boundary before the event crosses into the router or a
// background dispatcher (§4.1, §9). Every byte slice it carries is a copy
// the host stack no longer owns.
type GattsEvent struct {
	hoststack.RawEvent
}

// GapEvent is the core's owned copy of a GAP RawEvent.
type GapEvent struct {
	hoststack.RawEvent
}

// Kind returns the event's discriminant, used as the router's map key.
func (e GattsEvent) Kind() hoststack.EventKind { return e.RawEvent.Kind }

// Kind returns the event's discriminant, used as the router's map key.
func (e GapEvent) Kind() hoststack.EventKind { return e.RawEvent.Kind }

func ownGattsEvent(raw hoststack.RawEvent) GattsEvent {
	return GattsEvent{RawEvent: raw.Clone()}
}

func ownGapEvent(raw hoststack.RawEvent) GapEvent {
	return GapEvent{RawEvent: raw.Clone()}
}
