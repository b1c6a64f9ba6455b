package geo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-matching/internal/models"
)

// straightLine stands in for road distances; it satisfies the triangle
// inequality like a consistent road network does.
type straightLine struct {
	calls atomic.Int32
	err   error
}

func (s *straightLine) Distance(_ context.Context, a, b models.Coord) (float64, error) {
	s.calls.Add(1)
	if s.err != nil {
		return 0, s.err
	}
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000, nil
}

var eastbound = models.Path{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.05}, {Lat: 0, Lon: 0.1}}

func TestBearingDueEast(t *testing.T) {
	b, err := Bearing(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0, Lon: 1})
	require.NoError(t, err)
	assert.InDelta(t, 90, b, 1e-9)
}

func TestBearingIsNormalised(t *testing.T) {
	b, err := Bearing(models.Coord{Lat: 0, Lon: 1}, models.Coord{Lat: 0, Lon: 0})
	require.NoError(t, err)
	assert.InDelta(t, 270, b, 1e-9)
}

func TestBearingRejectsZeroLength(t *testing.T) {
	p := models.Coord{Lat: 10, Lon: 10}
	_, err := Bearing(p, p)
	assert.ErrorIs(t, err, ErrDegenerateRoute)
}

func TestAngleDifference(t *testing.T) {
	assert.InDelta(t, 10, AngleDifference(90, 100), 1e-9)
	assert.InDelta(t, 170, AngleDifference(90, 260), 1e-9)
	assert.InDelta(t, 20, AngleDifference(350, 10), 1e-9)
	assert.InDelta(t, 180, AngleDifference(0, 180), 1e-9)
	for x := 0.0; x < 360; x += 37 {
		for y := 0.0; y < 360; y += 29 {
			d := AngleDifference(x, y)
			assert.True(t, d >= 0 && d <= 180, "diff(%v,%v)=%v", x, y, d)
		}
	}
}

func TestDirectionCompatible(t *testing.T) {
	// slightly south of east, ~10 degrees off
	ok, diff, err := DirectionCompatible(eastbound, models.Coord{Lat: 0, Lon: 0.01}, models.Coord{Lat: -0.01763, Lon: 0.11}, DefaultMaxAngleDeg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 10, diff, 0.5)

	// heading back west
	ok, diff, err = DirectionCompatible(eastbound, models.Coord{Lat: 0, Lon: 0.1}, models.Coord{Lat: 0, Lon: 0}, DefaultMaxAngleDeg)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, 180, diff, 1e-6)
}

func TestDirectionCompatibleRejectsDegenerateCandidate(t *testing.T) {
	p := models.Coord{Lat: 0, Lon: 0.05}
	ok, _, err := DirectionCompatible(eastbound, p, p, DefaultMaxAngleDeg)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDegenerateRoute)
}

func TestDetourOfIdenticalTripIsZero(t *testing.T) {
	a := NewAnalyzer(&straightLine{}, 2, 0)
	start, _ := eastbound.First()
	end, _ := eastbound.Last()
	d, err := a.DetourDistance(context.Background(), eastbound, start, end)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestDetourIsNonNegative(t *testing.T) {
	dist := &straightLine{}
	a := NewAnalyzer(dist, 2, 0)
	d, err := a.DetourDistance(context.Background(), eastbound, models.Coord{Lat: 0.02, Lon: 0.03}, models.Coord{Lat: -0.01, Lon: 0.08})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, 0.0)
	assert.Equal(t, int32(4), dist.calls.Load())
}

func TestDetourPropagatesProviderError(t *testing.T) {
	boom := errors.New("graph unreachable")
	a := NewAnalyzer(&straightLine{err: boom}, 2, 0)
	_, err := a.DetourDistance(context.Background(), eastbound, models.Coord{Lat: 0, Lon: 0.01}, models.Coord{Lat: 0, Lon: 0.02})
	assert.ErrorIs(t, err, boom)
}

func TestDetourRequiresReferencePoints(t *testing.T) {
	a := NewAnalyzer(&straightLine{}, 2, 0)
	_, err := a.DetourDistance(context.Background(), nil, models.Coord{}, models.Coord{Lat: 1})
	assert.ErrorIs(t, err, ErrEmptyRoute)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("on the way", func(t *testing.T) {
		a := NewAnalyzer(&straightLine{}, 2, 0)
		d, err := a.Evaluate(ctx, eastbound, models.Coord{Lat: 0.001, Lon: 0.02}, models.Coord{Lat: 0.001, Lon: 0.07})
		require.NoError(t, err)
		assert.True(t, d.Eligible)
		assert.LessOrEqual(t, d.DetourKm, 2.0)
	})

	t.Run("detour too long", func(t *testing.T) {
		a := NewAnalyzer(&straightLine{}, 0.5, 0)
		d, err := a.Evaluate(ctx, eastbound, models.Coord{Lat: 0.05, Lon: 0.02}, models.Coord{Lat: 0.05, Lon: 0.09})
		require.NoError(t, err)
		assert.False(t, d.Eligible)
		assert.Equal(t, "detour", d.Reason)
	})

	t.Run("opposite direction skips provider", func(t *testing.T) {
		dist := &straightLine{}
		a := NewAnalyzer(dist, 100, 0)
		d, err := a.Evaluate(ctx, eastbound, models.Coord{Lat: 0, Lon: 0.09}, models.Coord{Lat: 0, Lon: 0.01})
		require.NoError(t, err)
		assert.False(t, d.Eligible)
		assert.Equal(t, "direction", d.Reason)
		assert.Zero(t, dist.calls.Load())
	})

	t.Run("zero length candidate rejected", func(t *testing.T) {
		a := NewAnalyzer(&straightLine{}, 100, 0)
		p := models.Coord{Lat: 0, Lon: 0.05}
		d, err := a.Evaluate(ctx, eastbound, p, p)
		require.NoError(t, err)
		assert.False(t, d.Eligible)
		assert.Equal(t, "degenerate_route", d.Reason)
	})
}
