package connmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestMemory_ManagerRoundTrip(t *testing.T) {
	log, _ := test.NewNullLogger()
	mem := NewMemory(devA)
	got := make(chan string, 4)
	m := NewManager(mem, &fakeGate{allow: true}, func(c string) { got <- c }, log)
	states := watchStates(m)

	if err := m.Connect(context.Background(), devA); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitState(t, states, Connecting)
	waitState(t, states, Connected)

	if !mem.Feed(devA.Address, "Lat 1, Long 2") {
		t.Fatalf("Feed() reported not connected")
	}
	if c := <-got; c != "Lat 1, Long 2" {
		t.Fatalf("chunk=%q", c)
	}

	mem.Drop(devA.Address)
	waitState(t, states, Disconnected)
	if mem.Feed(devA.Address, "late") {
		t.Fatalf("Feed() after drop should report false")
	}
}

func TestMemory_UnknownAndFailingDevices(t *testing.T) {
	mem := NewMemory(devA)
	if err := mem.Connect(context.Background(), devB.Address); err == nil {
		t.Fatalf("expected unknown device error")
	}
	boom := errors.New("page timeout")
	mem.FailConnect(devA.Address, boom)
	if err := mem.Connect(context.Background(), devA.Address); !errors.Is(err, boom) {
		t.Fatalf("Connect()=%v want %v", err, boom)
	}
	mem.FailConnect(devA.Address, nil)
	if err := mem.Connect(context.Background(), devA.Address); err != nil {
		t.Fatalf("Connect() after clearing failure: %v", err)
	}
	if !mem.Connected(devA.Address) {
		t.Fatalf("expected link")
	}
}
