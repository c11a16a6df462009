package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"rider-safety/internal/telemetry"
)

func TestSensor_PositionWithinRadius(t *testing.T) {
	s := Sensor{CenterLatDeg: 9.727108, CenterLonDeg: 76.726607, RadiusNm: 1.0, Period: 60 * time.Second}
	radiusDeg := s.RadiusNm / 60.0
	maxLonDeg := radiusDeg / math.Cos(s.CenterLatDeg*math.Pi/180.0)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 60; i++ {
		lat, lon := s.Position(base.Add(time.Duration(i) * time.Second))
		if math.Abs(lat-s.CenterLatDeg) > radiusDeg*1.01 {
			t.Fatalf("lat offset too large at %d: %f", i, lat)
		}
		if math.Abs(lon-s.CenterLonDeg) > maxLonDeg*1.01 {
			t.Fatalf("lon offset too large at %d: %f", i, lon)
		}
	}
}

func TestLine_ParsesAsTelemetry(t *testing.T) {
	fix, ok := telemetry.Parse(Line(-33.8688, 151.2093))
	if !ok {
		t.Fatalf("simulated line rejected")
	}
	if fix.Lat != -33.8688 || fix.Lon != 151.2093 {
		t.Fatalf("fix=%v", fix)
	}
}

func TestSensor_RunStopsWhenEmitRefuses(t *testing.T) {
	s := Sensor{CenterLatDeg: 1, CenterLonDeg: 2, Interval: time.Millisecond, NoiseEvery: 2}
	var lines []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background(), func(l string) bool {
			lines = append(lines, l)
			return len(lines) < 4
		})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if len(lines) != 4 {
		t.Fatalf("lines=%d want 4", len(lines))
	}
	if _, ok := telemetry.Parse(lines[1]); ok {
		t.Fatalf("noise line %q should not parse", lines[1])
	}
	if _, ok := telemetry.Parse(lines[0]); !ok {
		t.Fatalf("line %q should parse", lines[0])
	}
}
