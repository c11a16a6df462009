package permission

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

type recordingRequester struct {
	grants map[Capability]bool
	errs   map[Capability]error
	asked  []Capability
}

func (r *recordingRequester) Request(_ context.Context, c Capability) (bool, error) {
	r.asked = append(r.asked, c)
	return r.grants[c], r.errs[c]
}

func TestRequired_DecisionTable(t *testing.T) {
	cases := []struct {
		p    Platform
		want []Capability
	}{
		{Platform{OS: "android", Version: 34}, []Capability{Scan, Connect}},
		{Platform{OS: "Android", Version: 31}, []Capability{Scan, Connect}},
		{Platform{OS: "android", Version: 30}, []Capability{CoarseLocation}},
		{Platform{OS: "android", Version: 23}, []Capability{CoarseLocation}},
		{Platform{OS: "ios", Version: 17}, nil},
		{Platform{OS: "linux"}, []Capability{Scan, Connect}},
		{Platform{OS: " Linux "}, []Capability{Scan, Connect}},
		{Platform{OS: "darwin"}, nil},
	}
	for _, tc := range cases {
		got := Required(tc.p)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Required(%+v)=%v want %v", tc.p, got, tc.want)
		}
	}
}

func TestGate_RequiresEveryCapability(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := &recordingRequester{grants: map[Capability]bool{Scan: true}}
	g := NewGate(Platform{OS: "android", Version: 33}, r, log)

	if g.Ensure(context.Background()) {
		t.Fatalf("expected denial when connect is not granted")
	}
	if !reflect.DeepEqual(r.asked, []Capability{Scan, Connect}) {
		t.Fatalf("asked=%v", r.asked)
	}

	r.grants[Connect] = true
	if !g.Ensure(context.Background()) {
		t.Fatalf("expected grant")
	}
}

func TestGate_OlderAndroidAsksForLocationOnly(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := &recordingRequester{grants: map[Capability]bool{CoarseLocation: true}}
	g := NewGate(Platform{OS: "android", Version: 29}, r, log)
	if !g.Ensure(context.Background()) {
		t.Fatalf("expected grant")
	}
	if !reflect.DeepEqual(r.asked, []Capability{CoarseLocation}) {
		t.Fatalf("asked=%v", r.asked)
	}
}

func TestGate_RequestErrorIsDenial(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := &recordingRequester{
		grants: map[Capability]bool{Scan: true, Connect: true},
		errs:   map[Capability]error{Connect: errors.New("dialog dismissed")},
	}
	g := NewGate(Platform{OS: "android", Version: 33}, r, log)
	if g.Ensure(context.Background()) {
		t.Fatalf("expected denial")
	}
	if len(hook.Entries) != 1 {
		t.Fatalf("log entries=%d want 1", len(hook.Entries))
	}
}

func TestGate_LinuxAsksTheRadioStack(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := &recordingRequester{grants: map[Capability]bool{Scan: true}}
	g := NewGate(Platform{OS: "linux"}, r, log)

	if g.Ensure(context.Background()) {
		t.Fatalf("expected denial while the adapter refuses connect")
	}
	if !reflect.DeepEqual(r.asked, []Capability{Scan, Connect}) {
		t.Fatalf("asked=%v", r.asked)
	}
	r.grants[Connect] = true
	if !g.Ensure(context.Background()) {
		t.Fatalf("expected grant")
	}
}

func TestGate_NoPromptPlatformsAlwaysGrant(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := &recordingRequester{}
	g := NewGate(Platform{OS: "darwin"}, r, log)
	if !g.Ensure(context.Background()) {
		t.Fatalf("expected grant")
	}
	if len(r.asked) != 0 {
		t.Fatalf("asked=%v want none", r.asked)
	}
}

func TestStatic(t *testing.T) {
	s := Static{Scan: true}
	if ok, _ := s.Request(context.Background(), Scan); !ok {
		t.Fatalf("scan should be granted")
	}
	if ok, _ := s.Request(context.Background(), Connect); ok {
		t.Fatalf("connect should be denied")
	}
}
