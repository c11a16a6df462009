package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rider-safety/internal/alert"
	"rider-safety/internal/config"
	"rider-safety/internal/connmgr"
	"rider-safety/internal/contacts"
	"rider-safety/internal/location"
	"rider-safety/internal/permission"
	"rider-safety/internal/sim"
	"rider-safety/internal/telemetry"
	"rider-safety/internal/web"
)

// simDevice is the single bonded device offered by the sim transport.
var simDevice = connmgr.Device{Address: "00:00:00:00:5E:05", Name: "ridersafe-sim", Bonded: true}

// app is the wired component graph. Build it with newApp; Close releases
// everything it opened.
type app struct {
	cfg config.Config
	log logrus.FieldLogger

	store      *location.Store
	manager    *connmgr.Manager
	dispatcher *alert.Dispatcher
	trigger    *alert.Trigger
	hub        *web.Hub

	closers []func() error
}

// parts are the environment-specific pieces newApp wires together.
type parts struct {
	transport connmgr.Transport
	requester permission.Requester
	contacts  contacts.Source
	closers   []func() error
}

func newApp(ctx context.Context, cfg config.Config, p parts, log logrus.FieldLogger) *app {
	a := &app{cfg: cfg, log: log, closers: p.closers}

	a.store = location.NewStore()
	ingest := telemetry.NewIngestor(a.store, log)
	gate := permission.NewGate(permission.Platform{OS: cfg.Platform.OS, Version: cfg.Platform.Version}, p.requester, log)
	a.manager = connmgr.NewManager(p.transport, gate, ingest.Handle, log)

	a.dispatcher = alert.NewDispatcher(alert.Config{
		EmergencyURL: cfg.Alert.EmergencyURL,
		SupportURL:   cfg.Alert.SupportURL,
		Timeout:      cfg.Alert.Timeout,
		Contacts:     p.contacts,
	}, a.store, log)
	a.dispatcher.AddAcknowledger(alert.LogAcknowledger{Log: log})

	a.trigger = alert.NewTrigger(ctx, a.dispatcher, a.store, cfg.Rider.Name, log)
	a.closers = append(a.closers, func() error { a.trigger.Close(); return nil })

	a.hub = web.NewHub(log)
	a.dispatcher.AddAcknowledger(a.hub)
	a.manager.Watch(a.hub.OnState)
	unsubscribe := a.store.Subscribe(a.hub.OnFix)
	a.closers = append(a.closers, func() error { unsubscribe(); return nil })

	if cfg.Trigger.AutoArmOnConnect {
		a.manager.Watch(func(s connmgr.State) {
			if s.Kind == connmgr.Connected {
				a.trigger.Arm()
			}
		})
	}

	if mem, ok := p.transport.(*connmgr.Memory); ok && cfg.Transport.Kind == "sim" {
		a.startSimulator(ctx, mem)
	}
	return a
}

// startSimulator feeds synthetic telemetry while the sim device is
// connected. Watchers run one at a time, so stop needs no lock.
func (a *app) startSimulator(ctx context.Context, mem *connmgr.Memory) {
	s := a.cfg.Transport.Sim
	sensor := sim.Sensor{
		CenterLatDeg: s.CenterLatDeg,
		CenterLonDeg: s.CenterLonDeg,
		RadiusNm:     s.RadiusNm,
		Period:       s.Period,
		Interval:     s.Interval,
		NoiseEvery:   s.NoiseEvery,
	}
	var stop context.CancelFunc
	a.manager.Watch(func(st connmgr.State) {
		if stop != nil {
			stop()
			stop = nil
		}
		if st.Kind != connmgr.Connected || st.Device == nil {
			return
		}
		runCtx, cancel := context.WithCancel(ctx)
		stop = cancel
		addr := st.Device.Address
		go sensor.Run(runCtx, func(line string) bool { return mem.Feed(addr, line) })
	})
}

func (a *app) webDeps() web.Deps {
	return web.Deps{
		Manager:        a.manager,
		Store:          a.store,
		Dispatcher:     a.dispatcher,
		Trigger:        a.trigger,
		Hub:            a.hub,
		ConnectTimeout: a.cfg.Transport.Timeout,
		Log:            a.log,
	}
}

// Close disconnects and releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	if err := a.manager.Disconnect(); err != nil {
		first = err
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openParts builds the transport, permission requester and contact source
// selected by cfg.
func openParts(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (parts, error) {
	var p parts
	var radioRequester permission.Requester

	switch cfg.Transport.Kind {
	case "bluez":
		bz := connmgr.NewBlueZ(log)
		p.transport = bz
		radioRequester = bz
		p.closers = append(p.closers, bz.Close)
	case "tty":
		tty := connmgr.NewTTY(cfg.Transport.TTYGlob, cfg.Transport.Baud, log)
		p.transport = tty
		p.closers = append(p.closers, tty.Close)
	case "sim":
		p.transport = connmgr.NewMemory(simDevice)
	default:
		return parts{}, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}

	switch {
	case cfg.Permissions.Requester == "static":
		granted := permission.Static{}
		for _, c := range cfg.Permissions.Granted {
			granted[permission.Capability(c)] = true
		}
		p.requester = granted
	case radioRequester != nil:
		p.requester = radioRequester
	default:
		// Pre-bound ports and the simulator need no runtime permission.
		p.requester = permission.Static{permission.Scan: true, permission.Connect: true, permission.CoarseLocation: true}
	}

	src, closeSrc, err := openContacts(ctx, cfg)
	if err != nil {
		closeAll(p.closers)
		return parts{}, err
	}
	p.contacts = src
	if closeSrc != nil {
		p.closers = append(p.closers, closeSrc)
	}
	return p, nil
}

func openContacts(ctx context.Context, cfg config.Config) (contacts.Source, func() error, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.Contacts.Source {
	case "redis":
		r, err := contacts.NewRedis(ctx, contacts.RedisConfig{
			Addr:     cfg.Contacts.Redis.Addr,
			Password: cfg.Contacts.Redis.Password,
			DB:       cfg.Contacts.Redis.DB,
			UserID:   cfg.Rider.UserID,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "postgres":
		pg, err := contacts.NewPostgres(ctx, cfg.Contacts.Postgres.DSN, cfg.Rider.UserID)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() error { pg.Close(); return nil }, nil
	default:
		return contacts.Static(cfg.Contacts.Static), nil, nil
	}
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}
