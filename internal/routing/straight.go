package routing

import (
	"context"
	"time"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/geo"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/polyline"
)

// StraightLine answers routing questions with great-circle geometry. It is
// the local-development provider; in prod use OSRM or Google.
type StraightLine struct {
	SpeedMps float64
}

func (s StraightLine) Route(_ context.Context, origin, destination models.Coord) (string, error) {
	if origin == destination {
		return "", apperr.ErrNoRouteFound
	}
	return polyline.Encode(models.Path{origin, destination}), nil
}

func (s StraightLine) Distance(_ context.Context, a, b models.Coord) (float64, error) {
	return geo.Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000, nil
}

// ETA is distance / speed.
func (s StraightLine) ETA(_ context.Context, from, to models.Coord) (time.Duration, error) {
	speed := s.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return time.Duration(d / speed * float64(time.Second)), nil
}
