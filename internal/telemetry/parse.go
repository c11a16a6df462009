// Package telemetry turns the sensor unit's raw text stream into location fixes.
//
// The unit prints lines such as
//
//	Lat 9.727108, Long 76.726607
//
// interleaved with unrelated debug output. Anything that does not carry a
// complete, in-range coordinate pair is discarded.
package telemetry

import (
	"regexp"
	"strconv"

	"rider-safety/internal/location"
)

var fixPattern = regexp.MustCompile(`Lat\s*([+-]?\d+(?:\.\d+)?)\s*,\s*Long\s*([+-]?\d+(?:\.\d+)?)`)

// Parse extracts a fix from chunk. It reports false for chunks without a
// well-formed pair or with out-of-range values. Parse keeps no state.
func Parse(chunk string) (location.Fix, bool) {
	m := fixPattern.FindStringSubmatch(chunk)
	if m == nil {
		return location.Fix{}, false
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return location.Fix{}, false
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return location.Fix{}, false
	}
	fix, err := location.NewFix(lat, lon)
	if err != nil {
		return location.Fix{}, false
	}
	return fix, true
}
