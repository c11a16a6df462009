package connmgr

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Directory lists bonded devices reachable over the transport.
type Directory struct {
	transport Transport
	gate      Gate
	log       logrus.FieldLogger
}

func NewDirectory(t Transport, g Gate, log logrus.FieldLogger) *Directory {
	return &Directory{transport: t, gate: g, log: log.WithField("component", "directory")}
}

// Scan returns the bonded device set in platform order. A permission refusal
// is an expected steady state: it is logged and yields an empty list.
func (d *Directory) Scan(ctx context.Context) ([]Device, error) {
	if !d.gate.Ensure(ctx) {
		d.log.Warn("radio permissions not granted, skipping device scan")
		return []Device{}, nil
	}
	devs, err := d.transport.ListBonded(ctx)
	if err != nil {
		return []Device{}, fmt.Errorf("connmgr: list bonded devices: %w", err)
	}
	if devs == nil {
		devs = []Device{}
	}
	d.log.WithField("count", len(devs)).Debug("bonded devices listed")
	return devs, nil
}
