// Package alert delivers emergency and support notifications to the external
// mail service, with at most one dispatch in flight per kind, and decides
// when a location fix should raise an emergency alert automatically.
package alert

import (
	"time"

	"rider-safety/internal/location"
)

// Kind selects payload shape and endpoint.
type Kind string

const (
	Emergency Kind = "emergency"
	Support   Kind = "support"
)

// Status is the lifecycle of a single dispatch. Busy marks a call that was
// rejected because another dispatch of the same kind was pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusBusy      Status = "busy"
)

// DefaultRiderName is sent when the profile has no display name.
const DefaultRiderName = "Rider"

// SupportDetails is the free-form support request filled in by the rider.
type SupportDetails struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Description string `json:"description"`
}

// Request describes one dispatch. For Emergency, a nil Fix means the
// location store's current value (or its fallback) is used, and nil
// Recipients means the dispatcher's contact source is consulted.
type Request struct {
	Kind       Kind
	RiderName  string
	Recipients []string
	Fix        *location.Fix
	Support    SupportDetails
}

// Result is the outcome of a dispatch. It is resolved exactly once and is
// not kept after the caller has seen it.
type Result struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	Status     Status        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Fix        *location.Fix `json:"fix,omitempty"`
	Recipients int           `json:"recipients,omitempty"`
	At         time.Time     `json:"at"`
}

func (r Result) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Message returns the user-facing acknowledgment for a terminal result.
func (r Result) Message() (title, body string) {
	switch {
	case r.Kind == Emergency && r.Status == StatusSucceeded:
		return "Alert Sent", "Emergency services have been notified of your location."
	case r.Kind == Emergency:
		return "Failed to Send Alert", "Please try again or call emergency services directly."
	case r.Status == StatusSucceeded:
		return "Feedback Sent", "Thank you for your valuable feedback!"
	default:
		return "Failed to Send Feedback", "Please try again."
	}
}
