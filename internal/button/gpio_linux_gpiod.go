//go:build linux && (arm || arm64)

package button

import (
	"fmt"
	"io"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// openGPIOEdges requests the line as a pulled-up input and reports falling
// edges, which is how a button wired to ground reads when pressed.
func openGPIOEdges(cfg Config, fn func(time.Time)) (io.Closer, error) {
	if cfg.Line < 0 {
		return nil, fmt.Errorf("button: invalid gpio line %d", cfg.Line)
	}
	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithConsumer("ridersafe-sos"),
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			fn(time.Now())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("button: request %s line %d: %w", cfg.Chip, cfg.Line, err)
	}
	return line, nil
}
