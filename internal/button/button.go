// Package button turns a momentary push button on a GPIO line into manual SOS
// presses.
package button

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Chip     string
	Line     int
	Debounce time.Duration
}

// debouncer accepts an edge only if the previous accepted edge is at least
// window old.
type debouncer struct {
	window time.Duration
	last   time.Time
}

func (d *debouncer) accept(t time.Time) bool {
	if !d.last.IsZero() && t.Sub(d.last) < d.window {
		return false
	}
	d.last = t
	return true
}

// openEdges starts delivering falling edges of the configured line to fn.
var openEdges = openGPIOEdges

// Watch calls onPress once per debounced press until ctx is done. Presses
// that arrive while onPress is running are dropped, not queued.
func Watch(ctx context.Context, cfg Config, onPress func(), log logrus.FieldLogger) error {
	log = log.WithFields(logrus.Fields{"component": "button", "chip": cfg.Chip, "line": cfg.Line})
	// busy is set from the accepted edge until onPress returns, so presses
	// holds at most one entry.
	var busy atomic.Bool
	presses := make(chan struct{}, 1)
	deb := &debouncer{window: cfg.Debounce}

	closer, err := openEdges(cfg, func(t time.Time) {
		if !deb.accept(t) {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			log.Info("SOS button pressed while an alert is pending, ignored")
			return
		}
		presses <- struct{}{}
	})
	if err != nil {
		return err
	}
	defer func(c io.Closer) {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("close gpio line")
		}
	}(closer)

	log.Info("watching SOS button")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-presses:
			log.Info("SOS button pressed")
			onPress()
			busy.Store(false)
		}
	}
}
