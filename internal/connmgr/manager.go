package connmgr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"rider-safety/internal/metrics"
)

// Manager owns the single active connection and its state machine:
//
//	Idle|Disconnected -> Scanning -> back          (Scan)
//	Idle|Disconnected -> Connecting(d)             (Connect)
//	Connecting(d)     -> Connected(d)              (transport success, stream opened)
//	Connecting(d)     -> Disconnected              (transport failure, no retry)
//	Connected(d)      -> Disconnected              (Disconnect or link loss, stream closed)
//
// Every transition is pushed to watchers in order.
type Manager struct {
	transport Transport
	gate      Gate
	dir       *Directory
	onChunk   func(string)
	log       logrus.FieldLogger

	// opMu serializes every state transition.
	opMu sync.Mutex

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}

	watchMu  sync.Mutex
	watchers map[int]func(State)
	nextID   int
}

// NewManager creates a manager in the Idle state. onChunk receives every
// inbound chunk of the active connection, sequentially and in arrival order.
func NewManager(t Transport, g Gate, onChunk func(string), log logrus.FieldLogger) *Manager {
	return &Manager{
		transport: t,
		gate:      g,
		dir:       NewDirectory(t, g, log),
		onChunk:   onChunk,
		log:       log.WithField("component", "connmgr"),
		state:     State{Kind: Idle},
		watchers:  make(map[int]func(State)),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Device returns the connected device, or nil when not Connected.
func (m *Manager) Device() *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != Connected || m.state.Device == nil {
		return nil
	}
	d := *m.state.Device
	return &d
}

// Watch registers fn for every future state transition. fn runs while the
// transition is in progress and must not call Connect, Disconnect or Scan.
func (m *Manager) Watch(fn func(State)) (cancel func()) {
	m.watchMu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.watchMu.Lock()
			delete(m.watchers, id)
			m.watchMu.Unlock()
		})
	}
}

// Scan lists bonded devices. The state reads Scanning while the scan runs,
// unless a connection is in progress or established.
func (m *Manager) Scan(ctx context.Context) ([]Device, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	prev := m.State()
	if prev.Kind == Idle || prev.Kind == Disconnected {
		m.setState(State{Kind: Scanning})
		defer m.setState(prev)
	}
	return m.dir.Scan(ctx)
}

// Connect attempts a single connection to dev. Connecting to the device that
// is already connected is a no-op; connecting to another device tears the
// current connection down first.
func (m *Manager) Connect(ctx context.Context, dev Device) error {
	if dev.Address == "" {
		return errors.New("connmgr: device address required")
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if d := m.Device(); d != nil && d.Address == dev.Address {
		return nil
	}
	if !m.gate.Ensure(ctx) {
		m.log.WithField("device", dev.Address).Warn("connect aborted: radio permissions not granted")
		return ErrPermissionDenied
	}
	if d := m.Device(); d != nil {
		m.log.WithFields(logrus.Fields{"from": d.Address, "to": dev.Address}).Info("switching devices, disconnecting previous")
		if err := m.teardownLocked(); err != nil {
			m.log.WithError(err).Warn("disconnect of previous device failed")
		}
	}

	metrics.ConnectAttempts.Add(1)
	target := dev
	m.setState(State{Kind: Connecting, Device: &target})
	log := m.log.WithField("device", dev.Address)

	if err := m.transport.Connect(ctx, dev.Address); err != nil {
		metrics.ConnectFailures.Add(1)
		m.setState(State{Kind: Disconnected, Device: &target})
		log.WithError(err).Warn("connect failed")
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, dev.Address, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	ch, err := m.transport.Subscribe(streamCtx, dev.Address)
	if err != nil {
		cancel()
		_ = m.transport.Disconnect(dev.Address)
		metrics.ConnectFailures.Add(1)
		m.setState(State{Kind: Disconnected, Device: &target})
		log.WithError(err).Warn("telemetry subscription failed")
		return fmt.Errorf("%w: subscribe %s: %w", ErrConnectFailed, dev.Address, err)
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.setState(State{Kind: Connected, Device: &target})
	log.WithField("name", dev.Name).Info("connected")
	go m.pump(gen, target, ch, done)
	return nil
}

// Disconnect tears down the active connection, if any.
func (m *Manager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.teardownLocked()
}

// teardownLocked requires opMu. The stream is closed and its pump has exited
// before Disconnected is announced.
func (m *Manager) teardownLocked() error {
	m.mu.Lock()
	if m.state.Kind != Connected {
		m.mu.Unlock()
		return nil
	}
	dev := *m.state.Device
	m.gen++
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	cancel()
	err := m.transport.Disconnect(dev.Address)
	<-done

	m.setState(State{Kind: Disconnected, Device: &dev})
	m.log.WithField("device", dev.Address).Info("disconnected")
	if err != nil {
		return fmt.Errorf("connmgr: disconnect %s: %w", dev.Address, err)
	}
	return nil
}

func (m *Manager) pump(gen uint64, dev Device, ch <-chan string, done chan struct{}) {
	for chunk := range ch {
		if m.onChunk != nil {
			m.onChunk(chunk)
		}
	}
	close(done)
	// A stream that ends without a teardown means the link was lost.
	go m.handleLoss(gen, dev)
}

func (m *Manager) handleLoss(gen uint64, dev Device) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.gen != gen || m.state.Kind != Connected {
		m.mu.Unlock()
		return
	}
	m.gen++
	cancel := m.cancel
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	cancel()
	_ = m.transport.Disconnect(dev.Address)
	metrics.ConnectionsLost.Add(1)
	m.setState(State{Kind: Disconnected, Device: &dev})
	m.log.WithField("device", dev.Address).Warn("connection lost")
}

// setState requires opMu.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	for _, fn := range m.snapshotWatchers() {
		fn(s)
	}
}

func (m *Manager) snapshotWatchers() []func(State) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	ids := make([]int, 0, len(m.watchers))
	for id := range m.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(State), 0, len(ids))
	for _, id := range ids {
		out = append(out, m.watchers[id])
	}
	return out
}
