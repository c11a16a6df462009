package connmgr

import "fmt"

// Kind enumerates the connection states.
type Kind int

const (
	Idle Kind = iota
	Scanning
	Connecting
	Connected
	Disconnected
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// State is the manager's current connection state. Device is set for
// Connecting and Connected, and holds the last device for Disconnected.
type State struct {
	Kind   Kind    `json:"state"`
	Device *Device `json:"device,omitempty"`
}

func (s State) String() string {
	if s.Device == nil {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Device.Address)
}
