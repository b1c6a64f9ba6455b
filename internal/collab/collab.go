// Package collab holds the contracts of the external collaborators the
// matching and acceptance flows depend on, and decorators that bound every
// call with a timeout and a circuit breaker.
package collab

import (
	"context"
	"time"

	"github.com/example/ride-matching/internal/models"
)

// RouteProvider returns the encoded path between two points, or an error
// matching apperr.ErrNoRouteFound when none exists.
type RouteProvider interface {
	Route(ctx context.Context, origin, destination models.Coord) (string, error)
}

// RouteDistanceProvider returns the road distance in kilometres.
type RouteDistanceProvider interface {
	Distance(ctx context.Context, a, b models.Coord) (float64, error)
}

// DriverLocator returns ids of drivers near origin. An empty result is not
// an error.
type DriverLocator interface {
	FindNearby(ctx context.Context, origin models.Coord) ([]string, error)
}

type ETAProvider interface {
	ETA(ctx context.Context, from, to models.Coord) (time.Duration, error)
}

type FareProvider interface {
	Fare(ctx context.Context, route models.Path) (models.Money, error)
}

type Message struct {
	Text  string         `json:"text"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Notifier delivers a message to one recipient. Callers treat failures as
// best-effort.
type Notifier interface {
	Notify(ctx context.Context, recipient string, msg Message) error
}

const (
	EventRideRequestCreated   = "ride_request.created"
	EventRideRequestAccepted  = "ride_request.accepted"
	EventRideRequestCancelled = "ride_request.cancelled"
)

type Event struct {
	Type          string              `json:"type"`
	RideRequestID string              `json:"ride_request_id"`
	At            time.Time           `json:"at"`
	Request       *models.RideRequest `json:"ride_request,omitempty"`
	Ride          *models.Ride        `json:"ride,omitempty"`
}

// EventPublisher emits lifecycle events after a state change is committed.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
