// Package sensor turns a platform step-count capability into a normalized feed.
package sensor

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the device has no usable step counter.
	ErrUnavailable = errors.New("step sensor unavailable")
	// ErrPermissionDenied is returned when the user declines motion access.
	ErrPermissionDenied = errors.New("step sensor permission denied")
)

// Availability is the sensor state surfaced to clients.
type Availability int

const (
	AvailabilityChecking Availability = iota
	AvailabilityUnavailable
	AvailabilityAvailable
)

// String implements fmt.Stringer.
func (a Availability) String() string {
	switch a {
	case AvailabilityUnavailable:
		return "unavailable"
	case AvailabilityAvailable:
		return "available"
	default:
		return "checking"
	}
}

// Capability is the platform pedometer. Subscribe delivers the cumulative
// number of steps counted since that subscription was opened.
type Capability interface {
	IsAvailable(ctx context.Context) (bool, error)
	// RequestPermission returns true without prompting on platforms that need no grant.
	RequestPermission(ctx context.Context) (bool, error)
	Subscribe(fn func(cumulative int64)) (Subscription, error)
}

// Subscription is a live capability subscription. Release must be safe to call more than once.
type Subscription interface {
	Release()
}
