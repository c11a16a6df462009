package telemetry

import (
	"github.com/sirupsen/logrus"

	"rider-safety/internal/location"
	"rider-safety/internal/metrics"
)

// Ingestor feeds parsed fixes into a location store. Handle is meant to be
// used as the connection manager's chunk handler.
type Ingestor struct {
	store *location.Store
	log   logrus.FieldLogger
}

func NewIngestor(store *location.Store, log logrus.FieldLogger) *Ingestor {
	return &Ingestor{store: store, log: log.WithField("component", "telemetry")}
}

// Handle parses one chunk. Rejected chunks are expected line noise and are
// only logged at debug level.
func (i *Ingestor) Handle(chunk string) {
	metrics.ChunksReceived.Add(1)
	fix, ok := Parse(chunk)
	if !ok {
		metrics.ChunksRejected.Add(1)
		i.log.WithField("chunk", chunk).Debug("telemetry chunk rejected")
		return
	}
	metrics.FixesAccepted.Add(1)
	u := i.store.Update(fix)
	i.log.WithFields(logrus.Fields{"fix": fix.String(), "seq": u.Seq}).Debug("location fix accepted")
}
