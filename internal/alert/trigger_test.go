package alert

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"rider-safety/internal/contacts"
	"rider-safety/internal/location"
)

func newTestTrigger(t *testing.T, status int) (*Trigger, *location.Store, *mailService, *ackRecorder) {
	t.Helper()
	m := newMailService(t, status)
	store := location.NewStore()
	d, acks := newTestDispatcher(t, m, store, contacts.Static{{Name: "Mom", Email: "mom@example.com"}})
	log, _ := test.NewNullLogger()
	tr := NewTrigger(context.Background(), d, store, "Asha", log)
	t.Cleanup(tr.Close)
	return tr, store, m, acks
}

func waitAcks(t *testing.T, acks *ackRecorder, n int) []Result {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := acks.Results(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d acknowledgments, have %d", n, len(acks.Results()))
	return nil
}

func TestTrigger_ArmedFiresOnceOnFirstFix(t *testing.T) {
	tr, store, m, acks := newTestTrigger(t, http.StatusOK)

	id := tr.Arm()
	if id == "" || !tr.Armed() {
		t.Fatalf("not armed")
	}
	if again := tr.Arm(); again != id {
		t.Fatalf("re-arm replaced intent %s with %s", id, again)
	}

	store.Update(location.Fix{Lat: 9.9, Lon: 76.3})
	if tr.Armed() {
		t.Fatalf("intent not consumed")
	}
	store.Update(location.Fix{Lat: 10.0, Lon: 76.4})
	store.Update(location.Fix{Lat: 10.1, Lon: 76.5})

	got := waitAcks(t, acks, 1)
	if got[0].Status != StatusSucceeded {
		t.Fatalf("result=%+v", got[0])
	}
	tr.Close()

	reqs := m.Requests()
	if len(reqs) != 1 {
		t.Fatalf("dispatches=%d want 1", len(reqs))
	}
	body := reqs[0].Body
	if body["latitude"] != 9.9 || body["longitude"] != 76.3 || body["username"] != "Asha" {
		t.Fatalf("payload=%v", body)
	}
}

func TestTrigger_UnarmedAndDisarmedDoNothing(t *testing.T) {
	tr, store, m, _ := newTestTrigger(t, http.StatusOK)

	store.Update(location.Fix{Lat: 1, Lon: 1})
	tr.Arm()
	if !tr.Disarm() {
		t.Fatalf("Disarm() reported nothing pending")
	}
	if tr.Disarm() {
		t.Fatalf("second Disarm() reported a pending intent")
	}
	store.Update(location.Fix{Lat: 2, Lon: 2})
	tr.Close()

	if n := len(m.Requests()); n != 0 {
		t.Fatalf("dispatches=%d want 0", n)
	}
}

func TestTrigger_ManualConsumesIntent(t *testing.T) {
	tr, store, m, _ := newTestTrigger(t, http.StatusOK)

	tr.Arm()
	res := tr.Manual(context.Background())
	if res.Status != StatusSucceeded {
		t.Fatalf("result=%+v", res)
	}
	if tr.Armed() {
		t.Fatalf("manual trigger left intent pending")
	}
	store.Update(location.Fix{Lat: 3, Lon: 3})
	tr.Close()

	reqs := m.Requests()
	if len(reqs) != 1 {
		t.Fatalf("dispatches=%d want 1", len(reqs))
	}
	if reqs[0].Body["latitude"] != location.Fallback.Lat {
		t.Fatalf("manual before any fix should use fallback, got %v", reqs[0].Body["latitude"])
	}
}

func TestTrigger_ManualFailureAcknowledged(t *testing.T) {
	tr, _, _, acks := newTestTrigger(t, http.StatusBadGateway)

	res := tr.Manual(context.Background())
	if res.Status != StatusFailed {
		t.Fatalf("result=%+v", res)
	}
	got := acks.Results()
	if len(got) != 1 || got[0].Status != StatusFailed {
		t.Fatalf("acks=%+v", got)
	}
	if title, _ := got[0].Message(); title != "Failed to Send Alert" {
		t.Fatalf("title=%q", title)
	}
}

func TestTrigger_BusyAttemptKeepsIntent(t *testing.T) {
	tr, store, m, acks := newTestTrigger(t, http.StatusOK)
	m.gate = make(chan struct{})

	manual := make(chan Result, 1)
	go func() { manual <- tr.Manual(context.Background()) }()
	select {
	case <-m.arrived:
	case <-time.After(2 * time.Second):
		t.Fatalf("manual alert never reached the service")
	}

	tr.Arm()
	store.Update(location.Fix{Lat: 9.9, Lon: 76.3})
	deadline := time.Now().Add(2 * time.Second)
	for !tr.Armed() {
		if time.Now().After(deadline) {
			t.Fatalf("intent lost after a busy attempt")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(m.gate)
	if res := <-manual; res.Status != StatusSucceeded {
		t.Fatalf("manual=%+v", res)
	}
	store.Update(location.Fix{Lat: 10.5, Lon: 76.5})
	got := waitAcks(t, acks, 2)
	for _, r := range got {
		if r.Status != StatusSucceeded {
			t.Fatalf("acks=%+v", got)
		}
	}
	tr.Close()

	reqs := m.Requests()
	if len(reqs) != 2 {
		t.Fatalf("dispatches=%d want 2", len(reqs))
	}
	if reqs[1].Body["latitude"] != 10.5 {
		t.Fatalf("auto alert latitude=%v want 10.5", reqs[1].Body["latitude"])
	}
	if tr.Armed() {
		t.Fatalf("intent still pending after the alert was sent")
	}
}
