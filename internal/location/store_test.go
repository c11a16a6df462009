package location

import (
	"errors"
	"math"
	"testing"
)

func TestNewFix_RangeChecks(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
		ok       bool
	}{
		{"origin", 0, 0, true},
		{"corners", -90, 180, true},
		{"other corner", 90, -180, true},
		{"lat high", 90.0001, 0, false},
		{"lat low", -90.5, 0, false},
		{"lon high", 0, 180.01, false},
		{"lon low", 0, -181, false},
		{"nan", math.NaN(), 0, false},
		{"inf", 0, math.Inf(1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fix, err := NewFix(tc.lat, tc.lon)
			if tc.ok {
				if err != nil {
					t.Fatalf("NewFix(%v,%v) error: %v", tc.lat, tc.lon, err)
				}
				if fix.Lat != tc.lat || fix.Lon != tc.lon {
					t.Fatalf("fix=%v want %v,%v", fix, tc.lat, tc.lon)
				}
				return
			}
			if !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("err=%v want ErrOutOfRange", err)
			}
			if fix != (Fix{}) {
				t.Fatalf("rejected input produced fix %v", fix)
			}
		})
	}
}

func TestStore_CurrentFallsBackUntilFirstFix(t *testing.T) {
	s := NewStore()
	if _, ok := s.Latest(); ok {
		t.Fatalf("expected no fix")
	}
	if got := s.Current(); got != Fallback {
		t.Fatalf("current=%v want fallback %v", got, Fallback)
	}

	fix, _ := NewFix(1.5, -2.5)
	s.Update(fix)
	if got := s.Current(); got != fix {
		t.Fatalf("current=%v want %v", got, fix)
	}
}

func TestStore_NotifiesEveryUpdateEvenIfIdentical(t *testing.T) {
	s := NewStore()
	var got []Update
	cancel := s.Subscribe(func(u Update) { got = append(got, u) })
	defer cancel()

	fix, _ := NewFix(10, 20)
	s.Update(fix)
	s.Update(fix)

	if len(got) != 2 {
		t.Fatalf("notifications=%d want 2", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("seq=%d,%d want 1,2", got[0].Seq, got[1].Seq)
	}
}

func TestStore_CancelStopsDelivery(t *testing.T) {
	s := NewStore()
	n := 0
	cancel := s.Subscribe(func(Update) { n++ })
	fix, _ := NewFix(1, 1)
	s.Update(fix)
	cancel()
	cancel()
	s.Update(fix)
	if n != 1 {
		t.Fatalf("deliveries=%d want 1", n)
	}
}

func TestStore_SubscribersRunInRegistrationOrder(t *testing.T) {
	s := NewStore()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Subscribe(func(Update) { order = append(order, i) })
	}
	s.Update(Fallback)
	for i, v := range order {
		if v != i {
			t.Fatalf("order=%v", order)
		}
	}
}
