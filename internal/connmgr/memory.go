package connmgr

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process transport over a fixed set of bonded devices.
// Telemetry is supplied by the caller through Feed; it backs the sensor
// simulator.
type Memory struct {
	mu       sync.Mutex
	devices  []Device
	failures map[string]error
	links    map[string]chan string
}

func NewMemory(devs ...Device) *Memory {
	return &Memory{
		devices:  append([]Device(nil), devs...),
		failures: make(map[string]error),
		links:    make(map[string]chan string),
	}
}

// FailConnect makes every later Connect to address fail with err. A nil err
// clears the failure.
func (m *Memory) FailConnect(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, address)
		return
	}
	m.failures[address] = err
}

func (m *Memory) ListBonded(ctx context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Device{}, m.devices...), nil
}

func (m *Memory) Connect(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.knownLocked(address) {
		return fmt.Errorf("connmgr: unknown device %s", address)
	}
	if err := m.failures[address]; err != nil {
		return err
	}
	if _, ok := m.links[address]; !ok {
		m.links[address] = make(chan string, 64)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, address string) (<-chan string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.links[address]
	if !ok {
		return nil, fmt.Errorf("connmgr: %s not connected", address)
	}
	return ch, nil
}

func (m *Memory) Disconnect(address string) error {
	m.Drop(address)
	return nil
}

// Feed delivers one chunk on the link to address. It reports false when the
// address is not connected.
func (m *Memory) Feed(address, chunk string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.links[address]
	if !ok {
		return false
	}
	ch <- chunk
	return true
}

// Drop closes the link to address as if the radio lost it.
func (m *Memory) Drop(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.links[address]; ok {
		close(ch)
		delete(m.links, address)
	}
}

func (m *Memory) Connected(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[address]
	return ok
}

func (m *Memory) knownLocked(address string) bool {
	for _, d := range m.devices {
		if d.Address == address {
			return true
		}
	}
	return false
}
