package gatt

import "sync/atomic"

// Connection is a single peer link (§3). negotiated_mtu starts absent and
// is set on the first MTU-negotiation event for the connection.
type Connection struct {
	ID          uint16
	LinkRole    uint8
	PeerAddress [6]byte
	ConnParams  ConnParams

	mtu atomic.Uint32 // 0 means "not yet negotiated"; otherwise mtu+1, so 0 stays distinguishable
}

// ConnParams mirrors the subset of link-layer connection parameters the
// framework surfaces to application code; the host stack is the source of
// truth for the rest.
type ConnParams struct {
	IntervalMin uint16
	IntervalMax uint16
	Latency     uint16
	Timeout     uint16
}

// NegotiatedMTU returns the connection's MTU and whether it has been
// negotiated yet (§3, §4.7).
func (c *Connection) NegotiatedMTU() (uint16, bool) {
	v := c.mtu.Load()
	if v == 0 {
		return 0, false
	}
	return uint16(v - 1), true
}

func (c *Connection) setMTU(mtu uint16) {
	c.mtu.Store(uint32(mtu) + 1)
}

// ConnectionStatusKind tags a ConnectionStatus event.
type ConnectionStatusKind int

const (
	ConnectionConnected ConnectionStatusKind = iota
	ConnectionDisconnected
)

// ConnectionStatus is broadcast on a server-wide channel for the GAP
// auto-advertising loop (§3, §4.7).
type ConnectionStatus struct {
	Kind       ConnectionStatusKind
	Connection *Connection
}
