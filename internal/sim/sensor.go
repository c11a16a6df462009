// Package sim stands in for the rider's sensor unit on hosts without one. It
// produces the same "Lat x, Long y" lines the real unit streams.
package sim

import (
	"context"
	"fmt"
	"math"
	"time"
)

type Sensor struct {
	CenterLatDeg float64
	CenterLonDeg float64
	RadiusNm     float64
	Period       time.Duration
	Interval     time.Duration
	// NoiseEvery inserts a non-telemetry line every n fixes; 0 disables it.
	NoiseEvery int
}

// Position returns a circular track around the configured center.
func (s Sensor) Position(now time.Time) (latDeg, lonDeg float64) {
	period := s.Period
	if period <= 0 {
		period = 120 * time.Second
	}
	radiusNm := s.RadiusNm
	if radiusNm <= 0 {
		radiusNm = 0.2
	}
	// ~60 NM per degree of latitude.
	radiusDeg := radiusNm / 60.0

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase
	latDeg = s.CenterLatDeg + radiusDeg*math.Sin(w)
	lonDeg = s.CenterLonDeg + (radiusDeg*math.Cos(w))/math.Cos(s.CenterLatDeg*math.Pi/180.0)
	return latDeg, lonDeg
}

// Line formats a position the way the sensor firmware prints it.
func Line(latDeg, lonDeg float64) string {
	return fmt.Sprintf("Lat %.6f, Long %.6f", latDeg, lonDeg)
}

// Run emits one line per interval through emit until ctx is done or emit
// returns false.
func (s Sensor) Run(ctx context.Context, emit func(string) bool) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n++
			if s.NoiseEvery > 0 && n%s.NoiseEvery == 0 {
				if !emit("GPS: searching") {
					return
				}
				continue
			}
			if !emit(Line(s.Position(now))) {
				return
			}
		}
	}
}
