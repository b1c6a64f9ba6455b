package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/models"
)

// GoogleClient answers routing questions with the Google Directions API.
type GoogleClient struct {
	client *maps.Client
}

func NewGoogleClient(apiKey string, opts ...maps.ClientOption) (*GoogleClient, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleClient{client: client}, nil
}

func (g *GoogleClient) directions(ctx context.Context, from, to models.Coord) (maps.Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      from.String(),
		Destination: to.String(),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") || strings.Contains(err.Error(), "NOT_FOUND") {
			return maps.Route{}, apperr.Wrap(apperr.ErrNoRouteFound, err)
		}
		return maps.Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return maps.Route{}, apperr.ErrNoRouteFound
	}
	return routes[0], nil
}

func (g *GoogleClient) Route(ctx context.Context, origin, destination models.Coord) (string, error) {
	r, err := g.directions(ctx, origin, destination)
	if err != nil {
		return "", err
	}
	if r.OverviewPolyline.Points == "" {
		return "", apperr.ErrNoRouteFound
	}
	return r.OverviewPolyline.Points, nil
}

func (g *GoogleClient) Distance(ctx context.Context, a, b models.Coord) (float64, error) {
	r, err := g.directions(ctx, a, b)
	if err != nil {
		return 0, err
	}
	var meters int
	for _, leg := range r.Legs {
		meters += leg.Distance.Meters
	}
	return float64(meters) / 1000, nil
}

func (g *GoogleClient) ETA(ctx context.Context, from, to models.Coord) (time.Duration, error) {
	r, err := g.directions(ctx, from, to)
	if err != nil {
		return 0, err
	}
	var d time.Duration
	for _, leg := range r.Legs {
		d += leg.Duration
	}
	return d, nil
}
