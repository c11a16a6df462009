//go:build linux

package connmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"rider-safety/internal/permission"
)

const (
	bluezService         = "org.bluez"
	profileInterfaceName = "org.bluez.Profile1"
	profileManagerIface  = "org.bluez.ProfileManager1"
	deviceIface          = "org.bluez.Device1"
	adapterIface         = "org.bluez.Adapter1"
	objManagerIface      = "org.freedesktop.DBus.ObjectManager"
)

var pathCounter uint64

// BlueZ is a Transport over the BlueZ D-Bus API using the Serial Port Profile.
// Bonding is expected to have happened already (bluetoothctl, desktop settings).
type BlueZ struct {
	mu     sync.Mutex
	closed bool

	bus *dbus.Conn

	profileExported bool
	prof            *profile
	profilePath     dbus.ObjectPath

	links *links
	log   logrus.FieldLogger

	// cleanup functions to release resources in Close (executed once, in reverse order).
	cleanup []func()
}

func NewBlueZ(log logrus.FieldLogger) *BlueZ {
	return &BlueZ{links: newLinks(), log: log.WithField("component", "bluez")}
}

// ensureBusLocked connects to the system bus if not yet connected.
func (b *BlueZ) ensureBusLocked() error {
	if b.bus != nil {
		return nil
	}
	c, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connmgr: connect system bus: %w", err)
	}
	b.bus = c
	// Close the bus last during cleanup.
	b.cleanup = append(b.cleanup, func() { b.bus.Close() })
	return nil
}

func (b *BlueZ) busLocked() (*dbus.Conn, error) {
	if b.closed {
		return nil, errors.New("connmgr: closed")
	}
	if err := b.ensureBusLocked(); err != nil {
		return nil, err
	}
	return b.bus, nil
}

// profile implements org.bluez.Profile1 and hands RFCOMM sockets to the
// Connect call waiting for that device.
type profile struct {
	mu      sync.Mutex
	pending map[dbus.ObjectPath]chan int
	onDrop  func(dbus.ObjectPath)
}

// Release is called by BlueZ when the profile is being released.
func (p *profile) Release() *dbus.Error { return nil }

// Cancel may be called to indicate a canceled request.
func (p *profile) Cancel() *dbus.Error { return nil }

// RequestDisconnection closes the local end so the telemetry stream ends.
func (p *profile) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	if p.onDrop != nil {
		p.onDrop(dev)
	}
	return nil
}

// NewConnection delivers the RFCOMM socket FD to the waiting Connect.
func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	ch, ok := p.pending[dev]
	if ok {
		delete(p.pending, dev)
	}
	p.mu.Unlock()
	if !ok {
		// Nobody asked for this device; close FD and reject to avoid leaks.
		_ = unix.Close(int(fd))
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no pending connect"}}
	}
	ch <- int(fd)
	return nil
}

func (p *profile) expect(dev dbus.ObjectPath) chan int {
	ch := make(chan int, 1)
	p.mu.Lock()
	p.pending[dev] = ch
	p.mu.Unlock()
	return ch
}

func (p *profile) forget(dev dbus.ObjectPath) {
	p.mu.Lock()
	delete(p.pending, dev)
	p.mu.Unlock()
}

// ensureProfileLocked exports and registers the client-side SPP profile once.
func (b *BlueZ) ensureProfileLocked() error {
	if b.profileExported {
		return nil
	}
	b.prof = &profile{
		pending: make(map[dbus.ObjectPath]chan int),
		onDrop: func(dev dbus.ObjectPath) {
			if addr := macFromPath(dev); addr != "" {
				b.links.remove(addr)
			}
		},
	}
	// Unique object path per instance to avoid collisions.
	id := atomic.AddUint64(&pathCounter, 1)
	b.profilePath = dbus.ObjectPath("/org/ridersafety/connmgr/client/p" + strconv.FormatUint(id, 10))
	if err := b.bus.Export(b.prof, b.profilePath, profileInterfaceName); err != nil {
		return fmt.Errorf("connmgr: export client profile: %w", err)
	}
	pm := b.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	optsMap := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, b.profilePath, SPPUUID, optsMap); call.Err != nil {
		_ = b.bus.Export(nil, b.profilePath, profileInterfaceName)
		return fmt.Errorf("connmgr: RegisterProfile(client): %w", call.Err)
	}
	b.cleanup = append(b.cleanup, func() {
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, b.profilePath).Err
		// Unexport the object path (best-effort).
		_ = b.bus.Export(nil, b.profilePath, profileInterfaceName)
	})
	b.profileExported = true
	return nil
}

// ListBonded returns paired devices advertising SPP, ordered by object path.
func (b *BlueZ) ListBonded(ctx context.Context) ([]Device, error) {
	b.mu.Lock()
	bus, err := b.busLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	objs, err := managedObjects(ctx, bus)
	if err != nil {
		return nil, err
	}
	var out []Device
	for path, ifaces := range objs {
		dev, ok := deviceFromIfaces(path, ifaces)
		if !ok || !dev.Bonded {
			continue
		}
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *BlueZ) Connect(ctx context.Context, address string) error {
	if address == "" {
		return errors.New("connmgr: device address required")
	}
	if b.links.has(address) {
		return nil
	}
	b.mu.Lock()
	bus, err := b.busLocked()
	if err == nil {
		err = b.ensureProfileLocked()
	}
	prof := b.prof
	b.mu.Unlock()
	if err != nil {
		return err
	}

	devPath, err := devicePath(ctx, bus, address)
	if err != nil {
		return err
	}
	devObj := bus.Object(bluezService, devPath)
	var paired dbus.Variant
	if err := devObj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, deviceIface, "Paired").Store(&paired); err == nil {
		if ok, _ := paired.Value().(bool); !ok {
			return fmt.Errorf("connmgr: %s is not bonded", address)
		}
	}

	ch := prof.expect(devPath)
	defer prof.forget(devPath)

	if call := devObj.CallWithContext(ctx, deviceIface+".ConnectProfile", 0, SPPUUID); call.Err != nil {
		return fmt.Errorf("connmgr: ConnectProfile: %w", call.Err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("connmgr: connect canceled: %w", ctx.Err())
	case fd := <-ch:
		f, err := socketFile(fd, "rfcomm:"+address)
		if err != nil {
			return err
		}
		b.links.add(address, f)
		b.log.WithFields(logrus.Fields{"device": address, "path": string(devPath)}).Debug("rfcomm socket received")
		return nil
	}
}

func (b *BlueZ) Subscribe(ctx context.Context, address string) (<-chan string, error) {
	return b.links.subscribe(ctx, address)
}

func (b *BlueZ) Disconnect(address string) error {
	if !b.links.remove(address) {
		return nil
	}
	b.mu.Lock()
	bus := b.bus
	b.mu.Unlock()
	if bus == nil {
		return nil
	}
	// Best-effort: BlueZ may already have dropped the profile connection.
	if path, err := devicePath(context.Background(), bus, address); err == nil {
		_ = bus.Object(bluezService, path).Call(deviceIface+".DisconnectProfile", 0, SPPUUID).Err
	}
	return nil
}

// Request implements permission.Requester for BlueZ hosts: radio operations
// are allowed when bluetoothd is on the bus and an adapter is powered.
// Linux has no location permission for radio scans.
func (b *BlueZ) Request(ctx context.Context, c permission.Capability) (bool, error) {
	if c == permission.CoarseLocation {
		return true, nil
	}
	b.mu.Lock()
	bus, err := b.busLocked()
	b.mu.Unlock()
	if err != nil {
		return false, err
	}
	objs, err := managedObjects(ctx, bus)
	if err != nil {
		return false, err
	}
	for _, ifaces := range objs {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		if v, ok := props["Powered"]; ok {
			if on, _ := v.Value().(bool); on {
				return true, nil
			}
		}
	}
	return false, nil
}

// Close is safe for concurrent and redundant calls (idempotent).
func (b *BlueZ) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cleanup := b.cleanup
	b.cleanup = nil
	b.mu.Unlock()

	b.links.closeAll()
	// Run cleanup outside the lock in reverse order of registration.
	for i := len(cleanup) - 1; i >= 0; i-- {
		if cleanup[i] != nil {
			cleanup[i]()
		}
	}
	return nil
}

// Helpers

// socketFile wraps fd in a pollable *os.File so that Close unblocks readers.
func socketFile(fd int, name string) (*os.File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connmgr: set nonblock: %w", err)
	}
	f := os.NewFile(uintptr(fd), name)
	if f == nil {
		return nil, fmt.Errorf("connmgr: invalid fd %d", fd)
	}
	return f, nil
}

func managedObjects(ctx context.Context, bus *dbus.Conn) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	obj := bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if call := obj.CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return nil, fmt.Errorf("connmgr: GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("connmgr: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

func devicePath(ctx context.Context, bus *dbus.Conn, address string) (dbus.ObjectPath, error) {
	objs, err := managedObjects(ctx, bus)
	if err != nil {
		return "", err
	}
	for path, ifaces := range objs {
		if dev, ok := deviceFromIfaces(path, ifaces); ok && strings.EqualFold(dev.Address, address) {
			return path, nil
		}
	}
	return "", fmt.Errorf("connmgr: no SPP device with address %s", address)
}

func deviceFromIfaces(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) (Device, bool) {
	props, ok := ifaces[deviceIface]
	if !ok {
		return Device{}, false
	}
	vUUIDs, ok := props["UUIDs"]
	if !ok {
		return Device{}, false
	}
	uu, _ := vUUIDs.Value().([]string)
	if !containsUUID(uu, SPPUUID) {
		return Device{}, false
	}
	var mac, name, alias string
	var paired bool
	if v, ok := props["Address"]; ok {
		mac, _ = v.Value().(string)
	}
	if v, ok := props["Name"]; ok {
		name, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok {
		alias, _ = v.Value().(string)
	}
	if v, ok := props["Paired"]; ok {
		paired, _ = v.Value().(bool)
	}
	if mac == "" {
		mac = macFromPath(path)
	}
	if alias != "" {
		name = alias
	}
	return Device{
		Address: mac,
		Name:    name,
		Bonded:  paired,
		Path:    string(path),
	}, true
}

func containsUUID(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}

func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	// Expect .../dev_XX_XX_XX_XX_XX_XX
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}
