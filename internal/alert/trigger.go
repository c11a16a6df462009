package alert

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rider-safety/internal/location"
)

// Trigger decides when an emergency alert is raised. An armed intent fires
// exactly once, on the first location update after arming; Manual fires
// immediately.
type Trigger struct {
	dispatcher *Dispatcher
	riderName  string
	log        logrus.FieldLogger

	// ctx bounds dispatches fired from location updates.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	intent string
	closed bool

	unsubscribe func()
	wg          sync.WaitGroup
}

func NewTrigger(ctx context.Context, d *Dispatcher, store *location.Store, riderName string, log logrus.FieldLogger) *Trigger {
	ctx, cancel := context.WithCancel(ctx)
	t := &Trigger{
		dispatcher: d,
		riderName:  riderName,
		log:        log.WithField("component", "trigger"),
		ctx:        ctx,
		cancel:     cancel,
	}
	t.unsubscribe = store.Subscribe(t.onUpdate)
	return t
}

// Arm creates a pending intent and returns its id. Arming while already
// armed keeps the existing intent.
func (t *Trigger) Arm() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.intent == "" {
		t.intent = uuid.NewString()
		t.log.WithField("intent", t.intent).Info("armed")
	}
	return t.intent
}

// Disarm drops the pending intent, if any.
func (t *Trigger) Disarm() bool {
	id := t.take()
	if id != "" {
		t.log.WithField("intent", id).Info("disarmed")
	}
	return id != ""
}

func (t *Trigger) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intent != ""
}

// Manual dispatches an emergency alert now with the current fix and
// consumes any pending intent.
func (t *Trigger) Manual(ctx context.Context) Result {
	if id := t.take(); id != "" {
		t.log.WithField("intent", id).Debug("intent consumed by manual trigger")
	}
	return t.dispatcher.Dispatch(ctx, Request{Kind: Emergency, RiderName: t.riderName})
}

// Close stops reacting to location updates and waits for dispatches it
// started.
func (t *Trigger) Close() {
	t.mu.Lock()
	t.closed = true
	t.intent = ""
	t.mu.Unlock()
	t.unsubscribe()
	t.cancel()
	t.wg.Wait()
}

// take consumes the pending intent.
func (t *Trigger) take() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.intent
	t.intent = ""
	return id
}

func (t *Trigger) onUpdate(u location.Update) {
	t.mu.Lock()
	id := t.intent
	if id == "" || t.closed {
		t.mu.Unlock()
		return
	}
	t.intent = ""
	t.wg.Add(1)
	t.mu.Unlock()

	fix := u.Fix
	t.log.WithFields(logrus.Fields{"intent": id, "fix": fix.String(), "seq": u.Seq}).Info("location received, sending alert")
	go func() {
		defer t.wg.Done()
		res := t.dispatcher.Dispatch(t.ctx, Request{Kind: Emergency, RiderName: t.riderName, Fix: &fix})
		if res.Status == StatusBusy {
			t.restore(id)
		}
	}()
}

// restore re-arms id after an attempt that never reached the network, unless
// the trigger was closed or re-armed meanwhile.
func (t *Trigger) restore(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.intent != "" {
		return
	}
	t.intent = id
	t.log.WithField("intent", id).Info("alert already in flight, intent kept for the next fix")
}
