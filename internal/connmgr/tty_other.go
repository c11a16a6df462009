//go:build !linux

package connmgr

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// TTY is unavailable outside Linux.
type TTY struct{}

func NewTTY(glob string, baud int, log logrus.FieldLogger) *TTY { return &TTY{} }

func (t *TTY) ListBonded(ctx context.Context) ([]Device, error) {
	return nil, fmt.Errorf("connmgr: rfcomm tty not supported on this platform")
}

func (t *TTY) Connect(ctx context.Context, address string) error {
	return fmt.Errorf("connmgr: rfcomm tty not supported on this platform")
}

func (t *TTY) Subscribe(ctx context.Context, address string) (<-chan string, error) {
	return nil, fmt.Errorf("connmgr: rfcomm tty not supported on this platform")
}

func (t *TTY) Disconnect(address string) error { return nil }

func (t *TTY) Close() error { return nil }
