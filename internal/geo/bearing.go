package geo

import (
	"errors"
	"math"

	"github.com/example/ride-matching/internal/models"
)

// DefaultMaxAngleDeg is the largest heading difference at which two trips
// still count as going the same way.
const DefaultMaxAngleDeg = 45.0

// ErrDegenerateRoute is returned when a route starts where it ends and so
// has no heading.
var ErrDegenerateRoute = errors.New("route has no direction: start equals end")

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Bearing is the initial great-circle heading from a to b in degrees,
// normalised to [0, 360).
func Bearing(a, b models.Coord) (float64, error) {
	if a == b {
		return 0, ErrDegenerateRoute
	}
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(toDegrees(math.Atan2(y, x))+360, 360), nil
}

// AngleDifference returns the smaller angle between two headings, in
// [0, 180].
func AngleDifference(x, y float64) float64 {
	diff := math.Mod(math.Abs(x-y), 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// DirectionCompatible compares the heading of ref (first to last point)
// with the heading of start->end. Zero-length routes on either side are
// reported as ErrDegenerateRoute and never as compatible.
func DirectionCompatible(ref models.Path, start, end models.Coord, maxAngleDeg float64) (bool, float64, error) {
	refStart, ok := ref.First()
	if !ok {
		return false, 0, ErrEmptyRoute
	}
	refEnd, _ := ref.Last()

	refBearing, err := Bearing(refStart, refEnd)
	if err != nil {
		return false, 0, err
	}
	candBearing, err := Bearing(start, end)
	if err != nil {
		return false, 0, err
	}
	diff := AngleDifference(refBearing, candBearing)
	return diff <= maxAngleDeg, diff, nil
}
