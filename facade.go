package gatt

import (
	"github.com/dk731/go-bluedroid/hoststack"
	"github.com/sirupsen/logrus"
)

// Peripheral is the BLE facade (§4.3): the initialization and ownership
// root for the shared host-stack driver, the GATT server core, and the
// GAP manager. Construction order is strict — the GATT server is built
// before GAP, because the GAP auto-advertiser subscribes to the server's
// connection-status stream.
type Peripheral struct {
	Host   hoststack.Host
	Server *Server
	GAP    *GAP
}

// NewPeripheral acquires host (the caller is responsible for any
// non-volatile-storage partition / bonding-backend setup the concrete
// hoststack.Host implementation requires, which is out of this module's
// scope per §1) and constructs the server and GAP manager over it, in
// the required order.
func NewPeripheral(host hoststack.Host, log *logrus.Logger) *Peripheral {
	server := NewServer(host, log)
	gap := NewGAP(host, server, log)
	return &Peripheral{Host: host, Server: server, GAP: gap}
}

// Close tears down GAP before the server, mirroring construction order in
// reverse, then leaves the host stack itself to its owner — Peripheral
// never closes a driver it did not create.
func (p *Peripheral) Close() error {
	if err := p.GAP.Close(); err != nil {
		return err
	}
	return p.Server.Close()
}
