package gatt

import (
	"sync"
	"sync/atomic"

	"github.com/dk731/go-bluedroid/hoststack"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// GAP manages device discoverability: advertising configuration and, when
// MaxConnections is set, an auto-advertising loop that keeps the radio
// advertising whenever the number of open connections is below the limit
// (§4.3, §4.4). It holds a weak reference to the GATT server core rather
// than owning it; the facade constructs the server first (§4.8).
type GAP struct {
	host   hoststack.Host
	log    *logrus.Entry
	router *router[GapEvent]

	server atomic.Pointer[Server]

	cfgMu sync.RWMutex
	cfg   GAPConfig

	advertising atomic.Bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewGAP constructs a GAP manager over host, bound to server, and starts
// its event dispatcher. It does not start advertising or the auto-advertise
// loop on its own; call SetConfig then either StartAdvertising or
// RunAutoAdvertise.
func NewGAP(host hoststack.Host, server *Server, log *logrus.Logger) *GAP {
	if log == nil {
		log = logrus.New()
	}
	g := &GAP{
		host:   host,
		log:    log.WithField("component", "gap"),
		router: newRouter[GapEvent](log.WithField("component", "gap-router")),
		quit:   make(chan struct{}),
	}
	g.server.Store(server)
	g.wg.Add(1)
	go g.run()
	return g
}

// Close stops the GAP manager's dispatcher and, if running, its
// auto-advertise loop.
func (g *GAP) Close() error {
	close(g.quit)
	g.wg.Wait()
	return nil
}

func (g *GAP) run() {
	defer g.wg.Done()
	events := g.host.GapEvents()
	for {
		select {
		case <-g.quit:
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			ev := ownGapEvent(raw)
			switch ev.Kind() {
			case hoststack.EventAdvertisingStarted, hoststack.EventAdvertisingStopped:
				if !g.router.dispatch(ev.Kind(), ev) {
					g.log.WithField("kind", ev.Kind()).Debug("no waiter for correlated gap event, dropping")
				}
			default:
				g.log.WithField("kind", ev.Kind()).Warn("unrecognized gap event, dropping")
			}
		}
	}
}

// SetConfig applies cfg to the host stack's device name and advertising
// data (§6). It does not itself start advertising.
func (g *GAP) SetConfig(cfg GAPConfig) error {
	if err := g.host.SetDeviceName(cfg.DeviceName); err != nil {
		return errors.Wrap(ErrHostStack, err.Error())
	}

	conf := hoststack.AdvConf{
		DeviceName:           cfg.DeviceName,
		IncludeNameInAdv:     cfg.IncludeNameInAdv,
		IncludeTxPowerInAdv:  cfg.IncludeTxPowerInAdv,
		PreferredMinInterval: cfg.PreferredMinInterval,
		PreferredMaxInterval: cfg.PreferredMaxInterval,
		Appearance:           uint16(cfg.Appearance),
		ManufacturerData:     cfg.ManufacturerData,
		ServiceData:          cfg.ServiceData,
	}
	if cfg.ServiceUUID != nil {
		raw := [16]byte(*cfg.ServiceUUID)
		conf.ServiceUUID = &raw
	}
	if err := g.host.SetAdvConf(conf); err != nil {
		return errors.Wrap(ErrHostStack, err.Error())
	}

	g.cfgMu.Lock()
	g.cfg = cfg
	g.cfgMu.Unlock()
	return nil
}

func (g *GAP) config() GAPConfig {
	g.cfgMu.RLock()
	defer g.cfgMu.RUnlock()
	return g.cfg
}

// StartAdvertising starts advertising and waits for the host stack's
// confirmation (§4.3, §4.4).
func (g *GAP) StartAdvertising() error {
	_, err := await(g.router, hoststack.EventAdvertisingStarted, func() error {
		return g.host.StartAdvertising()
	})
	if err != nil {
		return errors.Wrap(err, "start advertising")
	}
	g.advertising.Store(true)
	return nil
}

// StopAdvertising stops advertising and waits for the host stack's
// confirmation.
func (g *GAP) StopAdvertising() error {
	_, err := await(g.router, hoststack.EventAdvertisingStopped, func() error {
		return g.host.StopAdvertising()
	})
	if err != nil {
		return errors.Wrap(err, "stop advertising")
	}
	g.advertising.Store(false)
	return nil
}

// IsAdvertising reports whether the last known advertising operation
// succeeded in starting (and has not since been stopped).
func (g *GAP) IsAdvertising() bool { return g.advertising.Load() }

// RunAutoAdvertise starts the auto-advertising loop described in §4.4: it
// subscribes to the GATT server's connection-status broadcast and keeps
// advertising on whenever the open connection count is strictly below
// cfg.MaxConnections. The comparison is strict (`<`, not `<=`) so that,
// e.g., MaxConnections=1 advertises with zero connections and stops the
// moment the first peer connects, matching a single-central peripheral's
// expectations. RunAutoAdvertise returns immediately; the loop runs in
// the background until the GATT server is closed, the GAP manager's weak
// server reference is empty, or Close is called.
func (g *GAP) RunAutoAdvertise() error {
	cfg := g.config()
	if cfg.MaxConnections == nil {
		return errors.New("gap: auto-advertise requires MaxConnections to be set")
	}

	server := g.server.Load()
	if server == nil {
		return ErrMissingLifetime
	}
	statusCh := server.Subscribe()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.autoAdvertiseLoop(statusCh, *cfg.MaxConnections)
	}()
	return nil
}

func (g *GAP) autoAdvertiseLoop(statusCh <-chan ConnectionStatus, maxConnections int) {
	server := g.server.Load()
	if server == nil {
		return
	}
	g.reconcileAdvertising(maxConnections)

	for {
		select {
		case <-g.quit:
			return
		case <-server.quit:
			return
		case _, ok := <-statusCh:
			if !ok {
				return
			}
			if g.server.Load() == nil {
				return
			}
			g.reconcileAdvertising(maxConnections)
		}
	}
}

func (g *GAP) reconcileAdvertising(maxConnections int) {
	server := g.server.Load()
	if server == nil {
		return
	}
	shouldAdvertise := server.ConnectionCount() < maxConnections

	switch {
	case shouldAdvertise && !g.IsAdvertising():
		if err := g.StartAdvertising(); err != nil {
			g.log.WithError(err).Warn("auto-advertise: start failed")
		}
	case !shouldAdvertise && g.IsAdvertising():
		if err := g.StopAdvertising(); err != nil {
			g.log.WithError(err).Warn("auto-advertise: stop failed")
		}
	}
}
