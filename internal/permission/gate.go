// Package permission decides which platform capabilities must be granted
// before any radio operation and asks for them.
package permission

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"rider-safety/internal/metrics"
)

// Capability is a platform permission needed for radio operations.
type Capability string

const (
	Scan           Capability = "scan"
	Connect        Capability = "connect"
	CoarseLocation Capability = "coarse_location"
)

// Platform identifies the host OS family and API level.
type Platform struct {
	OS      string
	Version int
}

// rule maps a platform predicate to the capabilities it needs. The first
// matching rule wins.
type rule struct {
	match func(Platform) bool
	caps  []Capability
}

// FineGrainedRadioVersion is the first android API level with separate
// scan/connect permissions.
const FineGrainedRadioVersion = 31

var table = []rule{
	{
		match: func(p Platform) bool { return isAndroid(p) && p.Version >= FineGrainedRadioVersion },
		caps:  []Capability{Scan, Connect},
	},
	{
		match: isAndroid,
		caps:  []Capability{CoarseLocation},
	},
	{
		// BlueZ hosts: the requester checks bluetoothd and the adapter.
		match: isLinux,
		caps:  []Capability{Scan, Connect},
	},
}

func isAndroid(p Platform) bool {
	return strings.EqualFold(strings.TrimSpace(p.OS), "android")
}

func isLinux(p Platform) bool {
	return strings.EqualFold(strings.TrimSpace(p.OS), "linux")
}

// Required returns the capabilities p must grant, in request order. Platforms
// without a radio permission model need none.
func Required(p Platform) []Capability {
	for _, r := range table {
		if r.match(p) {
			return append([]Capability(nil), r.caps...)
		}
	}
	return nil
}

// Requester asks the platform for a single capability.
type Requester interface {
	Request(ctx context.Context, c Capability) (bool, error)
}

// Gate is a pure yes/no check; it is safe to call before every scan or connect.
type Gate struct {
	platform  Platform
	requester Requester
	log       logrus.FieldLogger
}

func NewGate(p Platform, r Requester, log logrus.FieldLogger) *Gate {
	return &Gate{platform: p, requester: r, log: log.WithField("component", "permission")}
}

// Ensure requests every required capability and reports whether all were
// granted. A failed request counts as denial.
func (g *Gate) Ensure(ctx context.Context) bool {
	granted := true
	for _, c := range Required(g.platform) {
		ok, err := g.requester.Request(ctx, c)
		if err != nil {
			g.log.WithError(err).WithField("capability", c).Warn("permission request failed")
			ok = false
		}
		if !ok {
			granted = false
		}
	}
	if !granted {
		metrics.PermissionRefusals.Add(1)
	}
	return granted
}

// Static grants capabilities from a fixed set, e.g. from configuration on
// hosts that have no interactive permission prompt.
type Static map[Capability]bool

func (s Static) Request(_ context.Context, c Capability) (bool, error) {
	return s[c], nil
}
