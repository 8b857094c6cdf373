package gatt

import (
	"github.com/dk731/go-bluedroid/hoststack"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// run drains the host stack's single GATTS event subscription (§4.2,
// §4.7, §5: "a dedicated thread drains the long-lived event receiver").
// Registration-protocol replies are handed to the router for a waiting
// correlated call; everything else is a long-lived, fanned-out event
// handled here directly.
func (s *Server) run() {
	defer s.wg.Done()
	events := s.host.Events()
	for {
		select {
		case <-s.quit:
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			ev := ownGattsEvent(raw)
			s.handleEvent(ev)
		}
	}
}

func (s *Server) handleEvent(ev GattsEvent) {
	switch ev.Kind() {
	case hoststack.EventAppRegistered,
		hoststack.EventServiceCreated,
		hoststack.EventCharacteristicAdded,
		hoststack.EventDescriptorAdded,
		hoststack.EventServiceStarted,
		hoststack.EventServiceStopped,
		hoststack.EventResponseComplete,
		hoststack.EventConfirm:
		if !s.gattsRouter.dispatch(ev.Kind(), ev) {
			s.log.WithField("kind", ev.Kind()).Debug("no waiter for correlated event, dropping")
		}

	case hoststack.EventRead:
		// handleRead's response path awaits a correlated ResponseComplete
		// reply (§4.8) on the same event stream this loop drains, so it
		// must run off the dispatcher's own goroutine to avoid a
		// self-deadlock. This trades the strict single-threaded
		// per-connection ordering for deadlock-freedom; see sendResponse.
		go s.handleRead(ev)
	case hoststack.EventWrite:
		go s.handleWrite(ev)
	case hoststack.EventExecWrite:
		go s.handleExecWrite(ev)
	case hoststack.EventPeerConnected:
		s.handlePeerConnected(ev)
	case hoststack.EventPeerDisconnected:
		s.handlePeerDisconnected(ev)
	case hoststack.EventMtu:
		s.handleMtu(ev)

	default:
		s.log.WithField("kind", ev.Kind()).Warn("unrecognized gatts event, dropping")
	}
}

// applicationForConn finds the application and connection owning connID,
// searching every registered application (§4.7). A real deployment with
// many applications might index this by connID directly; a handful of
// registered applications makes the linear scan simple and correct.
func (s *Server) applicationForConn(connID uint16) (*applicationEntry, *Connection, bool) {
	s.appsMu.RLock()
	defer s.appsMu.RUnlock()
	for _, app := range s.apps {
		app.connMu.RLock()
		conn, ok := app.connections[connID]
		app.connMu.RUnlock()
		if ok {
			return app, conn, true
		}
	}
	return nil, nil, false
}

// sendResponse issues send_response and awaits its correlated
// ResponseComplete reply before returning, per §4.8 ("both send_response
// and indicate follow the same pattern: register a correlated waiter,
// issue the host call, await, validate identity fields, return").
func (s *Server) sendResponse(gattIf uint16, ev GattsEvent, status uint8, value []byte) error {
	resp := hoststack.RespPayload{
		AttrHandle: ev.AttrHandle,
		Offset:     ev.Offset,
		Value:      value,
		Status:     status,
	}
	reply, err := await(s.gattsRouter, hoststack.EventResponseComplete, func() error {
		return s.host.SendResponse(gattIf, ev.ConnID, ev.TransID, resp)
	})
	if err != nil {
		return errors.Wrap(err, "send response")
	}
	if reply.ConnID != ev.ConnID || reply.TransID != ev.TransID {
		return errors.Wrap(ErrIdentityMismatch, "send response: reply did not match request")
	}
	return nil
}

// handleRead answers a peer read request with the value from ev.Offset
// onward (empty if the offset is at or past the end), truncated to the
// connection's negotiated MTU minus one byte if negotiated (§4.7, §6); if
// the MTU has not yet been negotiated the remainder is offered untruncated.
func (s *Server) handleRead(ev GattsEvent) {
	attr, ok := s.registry.lookup(ev.AttrHandle)
	if !ok {
		s.log.WithField("handle", ev.AttrHandle).Warn("read for unknown handle")
		s.respondIfNeeded(ev, StatusError, nil)
		return
	}

	value, err := attr.attrBytes()
	if err != nil {
		s.log.WithError(err).Warn("encode attribute for read failed")
		s.respondIfNeeded(ev, StatusError, nil)
		return
	}

	if ev.Offset > len(value) {
		value = nil
	} else {
		value = value[ev.Offset:]
	}

	if _, conn, ok := s.applicationForConn(ev.ConnID); ok {
		if mtu, ok := conn.NegotiatedMTU(); ok {
			limit := int(mtu) - 1
			if limit < 0 {
				limit = 0
			}
			if len(value) > limit {
				value = value[:limit]
			}
		}
	}

	s.respondIfNeeded(ev, StatusSuccess, value)
}

func (s *Server) respondIfNeeded(ev GattsEvent, status uint8, value []byte) {
	if !ev.NeedRsp {
		return
	}
	app, ok := s.appByInterface(ev.GattIf)
	if !ok {
		s.log.WithField("gatt_if", ev.GattIf).Warn("response for unknown gatt interface")
		return
	}
	gattIf, ok := app.gattIf()
	if !ok {
		return
	}
	if err := s.sendResponse(gattIf, ev, status, value); err != nil {
		s.log.WithError(err).Warn("send response failed")
	}
}

// handleWrite applies a peer write, either directly (not a prepare) or
// accumulated into a prepare-write transaction buffer capped at
// maxAttrLen (§4.7, §9 "unbounded prepare-write growth"). A capped write
// is rejected with a non-ok status instead of silently truncating.
func (s *Server) handleWrite(ev GattsEvent) {
	attr, ok := s.registry.lookup(ev.AttrHandle)
	if !ok {
		s.log.WithField("handle", ev.AttrHandle).Warn("write for unknown handle")
		s.respondIfNeeded(ev, StatusError, nil)
		return
	}

	if !ev.IsPrep {
		if err := attr.applyBytes(ev.Value); err != nil {
			s.log.WithError(err).Warn("apply write failed")
			s.respondIfNeeded(ev, StatusError, nil)
			return
		}
		s.respondIfNeeded(ev, StatusSuccess, ev.Value)
		return
	}

	buf := s.getOrCreatePrepareBuffer(ev.TransID, ev.AttrHandle)
	end := ev.Offset + len(ev.Value)
	if end > maxAttrLen {
		s.respondIfNeeded(ev, StatusError, nil)
		return
	}
	buf.growTo(end)
	copy(buf.value[ev.Offset:end], ev.Value)
	s.respondIfNeeded(ev, StatusSuccess, ev.Value)
}

// handleExecWrite commits or cancels a prepare-write transaction (§4.7,
// §8): a cancel discards the buffer without touching the attribute.
func (s *Server) handleExecWrite(ev GattsEvent) {
	buf, ok := s.getPrepareBuffer(ev.TransID)
	defer s.dropPrepareBuffer(ev.TransID)

	if ev.Canceled || !ok {
		s.respondIfNeeded(ev, StatusSuccess, nil)
		return
	}

	attr, ok := s.registry.lookup(buf.handle)
	if !ok {
		s.log.WithField("handle", buf.handle).Warn("exec write for unknown handle")
		s.respondIfNeeded(ev, StatusError, nil)
		return
	}
	if err := attr.applyBytes(buf.value); err != nil {
		s.log.WithError(err).Warn("commit prepared write failed")
		s.respondIfNeeded(ev, StatusError, nil)
		return
	}
	s.respondIfNeeded(ev, StatusSuccess, nil)
}

func (s *Server) handlePeerConnected(ev GattsEvent) {
	app, ok := s.appByInterface(ev.GattIf)
	if !ok {
		s.log.WithField("gatt_if", ev.GattIf).Warn("connect event for unknown gatt interface")
		return
	}
	conn := &Connection{
		ID:          ev.ConnID,
		LinkRole:    ev.LinkRole,
		PeerAddress: ev.PeerAddress,
	}
	app.connMu.Lock()
	app.connections[ev.ConnID] = conn
	app.connMu.Unlock()

	s.publishConnectionStatus(ConnectionStatus{Kind: ConnectionConnected, Connection: conn})
}

func (s *Server) handlePeerDisconnected(ev GattsEvent) {
	app, ok := s.appByInterface(ev.GattIf)
	if !ok {
		return
	}
	app.connMu.Lock()
	conn, existed := app.connections[ev.ConnID]
	delete(app.connections, ev.ConnID)
	app.connMu.Unlock()

	if existed {
		s.publishConnectionStatus(ConnectionStatus{Kind: ConnectionDisconnected, Connection: conn})
	}
}

func (s *Server) handleMtu(ev GattsEvent) {
	if _, conn, ok := s.applicationForConn(ev.ConnID); ok {
		conn.setMTU(ev.Mtu)
	}
}

// indicateAll sends an indicate (with confirm) to every connection of app
// for charHandle, truncating value to each connection's negotiated MTU
// and logging a warning when truncation occurs (§4.7, §6, §8 "indicate to
// two peers with differing MTUs"). A connection whose MTU has not yet
// been negotiated is skipped with ErrMtuUnknown (§7); a confirm timeout
// or identity mismatch on one connection does not block the others.
// Errors are aggregated per-connection: indicateAll returns the first
// one encountered, but every connection is still attempted.
func (s *Server) indicateAll(app *applicationEntry, charHandle uint16, value []byte) error {
	gattIf, ok := app.gattIf()
	if !ok {
		return errors.Wrap(ErrMissingLifetime, "application has no gatt interface yet")
	}

	app.connMu.RLock()
	conns := make([]*Connection, 0, len(app.connections))
	for _, c := range app.connections {
		conns = append(conns, c)
	}
	app.connMu.RUnlock()

	var firstErr error
	for _, conn := range conns {
		mtu, ok := conn.NegotiatedMTU()
		if !ok {
			s.log.WithField("conn", conn.ID).Warn("indicate before mtu negotiation, skipping peer")
			if firstErr == nil {
				firstErr = errors.Wrapf(ErrMtuUnknown, "conn %d", conn.ID)
			}
			continue
		}

		// Unlike Read (§4.7's effective_payload = negotiated_mtu - 1, which
		// accounts for the ATT opcode), indications slice to the full
		// negotiated MTU with no overhead subtracted (§4.7, §8 scenario 6:
		// a 23-byte MTU yields a 23-byte truncated indication).
		payload := value
		limit := int(mtu)
		if len(payload) > limit {
			s.log.WithFields(logrus.Fields{"conn": conn.ID, "mtu": mtu}).Warn("truncating indication to negotiated mtu")
			payload = payload[:limit]
		}

		reply, err := await(s.gattsRouter, hoststack.EventConfirm, func() error {
			return s.host.Indicate(gattIf, conn.ID, charHandle, payload, true)
		})
		if err != nil {
			s.log.WithError(err).WithField("conn", conn.ID).Warn("indicate did not confirm")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if reply.ConnID != conn.ID || reply.AttrHandle != charHandle {
			s.log.WithField("conn", conn.ID).Warn("confirm reply did not match request")
			if firstErr == nil {
				firstErr = errors.Wrapf(ErrIdentityMismatch, "confirm: conn %d handle %d", conn.ID, charHandle)
			}
		}
	}
	return firstErr
}
