//go:build !linux

package connmgr

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"rider-safety/internal/permission"
)

var errBlueZUnsupported = errors.New("connmgr: bluez transport not supported on this platform")

// BlueZ is unavailable outside Linux; every operation fails.
type BlueZ struct{}

func NewBlueZ(log logrus.FieldLogger) *BlueZ { return &BlueZ{} }

func (b *BlueZ) ListBonded(ctx context.Context) ([]Device, error) {
	return nil, errBlueZUnsupported
}

func (b *BlueZ) Connect(ctx context.Context, address string) error {
	return errBlueZUnsupported
}

func (b *BlueZ) Subscribe(ctx context.Context, address string) (<-chan string, error) {
	return nil, errBlueZUnsupported
}

func (b *BlueZ) Disconnect(address string) error { return nil }

func (b *BlueZ) Request(ctx context.Context, c permission.Capability) (bool, error) {
	return false, errBlueZUnsupported
}

func (b *BlueZ) Close() error { return nil }
