//go:build !linux || (!arm && !arm64)

package button

import (
	"fmt"
	"io"
	"time"
)

func openGPIOEdges(cfg Config, fn func(time.Time)) (io.Closer, error) {
	return nil, fmt.Errorf("button: gpio not supported on this platform")
}
