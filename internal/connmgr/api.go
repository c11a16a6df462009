// Package connmgr owns the link to the rider's sensor unit: listing bonded
// serial-profile devices, holding the single active connection, and turning
// the connection's byte stream into text chunks for the telemetry parser.
//
// Thread-safety: Manager and Directory are safe for concurrent use. Connect
// and Disconnect are serialized internally; callers may invoke them from any
// goroutine. Transport implementations must be safe for concurrent use.
package connmgr

import (
	"context"
	"errors"
)

const (
	// SPPUUID is the Serial Port Profile UUID used for RFCOMM connections.
	SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"
)

var (
	// ErrPermissionDenied is returned by Connect when the permission gate
	// refuses; no transport call is made.
	ErrPermissionDenied = errors.New("connmgr: permission denied")

	// ErrConnectFailed wraps transport-level connect failures.
	ErrConnectFailed = errors.New("connmgr: connect failed")
)

// Device is an immutable snapshot of a bonded peer.
//
// Address is required: the Bluetooth address for BlueZ, or the TTY path for
// pre-bound RFCOMM ports. Path is the BlueZ Device1 object path when known.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Bonded  bool   `json:"bonded"`
	Path    string `json:"path,omitempty"`
}

// Transport is the serial-style link consumed by the manager.
type Transport interface {
	// ListBonded returns the currently bonded devices in platform order.
	// It does not discover unpaired devices.
	ListBonded(ctx context.Context) ([]Device, error)

	// Connect opens a connection to address. Errors wrapping
	// context.Canceled or context.DeadlineExceeded may be returned.
	Connect(ctx context.Context, address string) error

	// Subscribe starts delivering inbound text chunks for a connected address.
	// The channel is closed when the link is lost or Disconnect is called.
	// At most one subscription exists per address.
	Subscribe(ctx context.Context, address string) (<-chan string, error)

	// Disconnect tears down the connection and closes its subscription.
	// Calling it for an address that is not connected is not an error.
	Disconnect(address string) error
}

// Gate reports whether radio permissions are granted.
type Gate interface {
	Ensure(ctx context.Context) bool
}
