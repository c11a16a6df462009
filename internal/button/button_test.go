package button

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestDebouncer(t *testing.T) {
	d := &debouncer{window: 50 * time.Millisecond}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{10 * time.Millisecond, false},
		{49 * time.Millisecond, false},
		{50 * time.Millisecond, true},
		{120 * time.Millisecond, true},
	}
	for _, s := range steps {
		if got := d.accept(t0.Add(s.at)); got != s.want {
			t.Fatalf("accept(+%s)=%v want %v", s.at, got, s.want)
		}
	}
}

func withFakeEdges(t *testing.T) (fire func(time.Time), closed <-chan struct{}) {
	t.Helper()
	old := openEdges
	t.Cleanup(func() { openEdges = old })

	handlers := make(chan func(time.Time), 1)
	done := make(chan struct{})
	openEdges = func(cfg Config, fn func(time.Time)) (io.Closer, error) {
		handlers <- fn
		return closerFunc(func() error { close(done); return nil }), nil
	}
	return func(at time.Time) {
		fn := <-handlers
		fn(at)
		handlers <- fn
	}, done
}

func TestWatch_DebouncedPresses(t *testing.T) {
	fire, closed := withFakeEdges(t)
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())

	pressed := make(chan struct{}, 8)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, Config{Chip: "gpiochip0", Line: 17, Debounce: time.Second}, func() {
			pressed <- struct{}{}
		}, log)
	}()

	t0 := time.Now()
	fire(t0)
	fire(t0.Add(10 * time.Millisecond))
	select {
	case <-pressed:
	case <-time.After(2 * time.Second):
		t.Fatalf("press not delivered")
	}
	fire(t0.Add(2 * time.Second))
	select {
	case <-pressed:
	case <-time.After(2 * time.Second):
		t.Fatalf("second press not delivered")
	}
	select {
	case <-pressed:
		t.Fatalf("bounce delivered as a press")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	select {
	case <-closed:
	default:
		t.Fatalf("line not closed")
	}
}

func TestWatch_PressDuringPendingAlertIsDropped(t *testing.T) {
	fire, _ := withFakeEdges(t)
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 8)
	release := make(chan struct{})
	var calls atomic.Int32
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, Config{Debounce: 50 * time.Millisecond}, func() {
			calls.Add(1)
			started <- struct{}{}
			<-release
		}, log)
	}()

	t0 := time.Now()
	fire(t0)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("press not delivered")
	}
	fire(t0.Add(200 * time.Millisecond))
	close(release)
	select {
	case <-started:
		t.Fatalf("press during pending alert ran later")
	case <-time.After(100 * time.Millisecond):
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("onPress calls=%d want 1", n)
	}

	fire(t0.Add(400 * time.Millisecond))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("press after the alert finished not delivered")
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
}

func TestWatch_OpenError(t *testing.T) {
	old := openEdges
	t.Cleanup(func() { openEdges = old })
	boom := errors.New("busy")
	openEdges = func(Config, func(time.Time)) (io.Closer, error) { return nil, boom }

	log, _ := test.NewNullLogger()
	if err := Watch(context.Background(), Config{}, func() {}, log); !errors.Is(err, boom) {
		t.Fatalf("Watch()=%v want %v", err, boom)
	}
}
