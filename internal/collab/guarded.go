package collab

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/resilience"
)

func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Unavailable(name, err)
}

// NoRouteIsHealthy keeps "no path exists" answers from tripping the
// routing breaker.
func NoRouteIsHealthy(err error) bool { return errors.Is(err, apperr.ErrNoRouteFound) }

type GuardedRouteProvider struct {
	Next  RouteProvider
	Guard *resilience.Guard
}

// Route treats a provider that does not answer in time the same as one
// that found no path.
func (g GuardedRouteProvider) Route(ctx context.Context, origin, destination models.Coord) (string, error) {
	encoded, err := resilience.Call(ctx, g.Guard, func(ctx context.Context) (string, error) {
		return g.Next.Route(ctx, origin, destination)
	})
	switch {
	case err == nil && encoded == "":
		return "", apperr.ErrNoRouteFound
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return "", apperr.Wrap(apperr.ErrNoRouteFound, err)
	}
	return encoded, classify("routing", err)
}

type GuardedDistanceProvider struct {
	Next  RouteDistanceProvider
	Guard *resilience.Guard
}

func (g GuardedDistanceProvider) Distance(ctx context.Context, a, b models.Coord) (float64, error) {
	km, err := resilience.Call(ctx, g.Guard, func(ctx context.Context) (float64, error) {
		return g.Next.Distance(ctx, a, b)
	})
	return km, classify("route_distance", err)
}

type GuardedDriverLocator struct {
	Next  DriverLocator
	Guard *resilience.Guard
}

func (g GuardedDriverLocator) FindNearby(ctx context.Context, origin models.Coord) ([]string, error) {
	ids, err := resilience.Call(ctx, g.Guard, func(ctx context.Context) ([]string, error) {
		return g.Next.FindNearby(ctx, origin)
	})
	return ids, classify("driver_locator", err)
}

type GuardedETAProvider struct {
	Next  ETAProvider
	Guard *resilience.Guard
}

func (g GuardedETAProvider) ETA(ctx context.Context, from, to models.Coord) (time.Duration, error) {
	d, err := resilience.Call(ctx, g.Guard, func(ctx context.Context) (time.Duration, error) {
		return g.Next.ETA(ctx, from, to)
	})
	return d, classify("eta", err)
}

type GuardedFareProvider struct {
	Next  FareProvider
	Guard *resilience.Guard
}

func (g GuardedFareProvider) Fare(ctx context.Context, route models.Path) (models.Money, error) {
	m, err := resilience.Call(ctx, g.Guard, func(ctx context.Context) (models.Money, error) {
		return g.Next.Fare(ctx, route)
	})
	return m, classify("fare", err)
}

type GuardedNotifier struct {
	Next  Notifier
	Guard *resilience.Guard
}

func (g GuardedNotifier) Notify(ctx context.Context, recipient string, msg Message) error {
	_, err := resilience.Call(ctx, g.Guard, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.Next.Notify(ctx, recipient, msg)
	})
	return classify("notifier", err)
}

// GuardedEventPublisher bounds lifecycle event writes. Publishing happens
// inline in submit, accept and cancel, so a stalled broker must not stall
// the caller.
type GuardedEventPublisher struct {
	Next  EventPublisher
	Guard *resilience.Guard
}

func (g GuardedEventPublisher) Publish(ctx context.Context, e Event) error {
	_, err := resilience.Call(ctx, g.Guard, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.Next.Publish(ctx, e)
	})
	return classify("events", err)
}
