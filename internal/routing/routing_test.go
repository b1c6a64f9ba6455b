package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/polyline"
)

func osrmServer(t *testing.T, body string) (*httptest.Server, *string) {
	t.Helper()
	var lastURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastURL = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastURL
}

func TestOSRMRoute(t *testing.T) {
	srv, lastURL := osrmServer(t, `{"code":"Ok","routes":[{"geometry":"_p~iF~ps|U_ulLnnqC","distance":1500,"duration":120}]}`)
	c := NewOSRMClient(srv.URL)

	got, err := c.Route(context.Background(), models.Coord{Lat: 38.5, Lon: -120.2}, models.Coord{Lat: 40.7, Lon: -120.95})
	require.NoError(t, err)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC", got)
	assert.True(t, strings.HasPrefix(*lastURL, "/route/v1/driving/-120.200000,38.500000;-120.950000,40.700000"), *lastURL)
	assert.Contains(t, *lastURL, "overview=full")
}

func TestOSRMDistanceAndETA(t *testing.T) {
	srv, _ := osrmServer(t, `{"code":"Ok","routes":[{"distance":1500,"duration":120.5}]}`)
	c := NewOSRMClient(srv.URL)

	km, err := c.Distance(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, km, 1e-9)

	eta, err := c.ETA(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	require.NoError(t, err)
	assert.Equal(t, 120500*time.Millisecond, eta)
}

func TestOSRMNoRoute(t *testing.T) {
	srv, _ := osrmServer(t, `{"code":"NoRoute","message":"Impossible route between points","routes":[]}`)
	_, err := NewOSRMClient(srv.URL).Route(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	assert.ErrorIs(t, err, apperr.ErrNoRouteFound)
}

func TestOSRMUpstreamError(t *testing.T) {
	srv, _ := osrmServer(t, `{"code":"InvalidQuery","message":"Query string malformed"}`)
	_, err := NewOSRMClient(srv.URL).Distance(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrNoRouteFound)
}

type countingDistance struct{ calls atomic.Int32 }

func (c *countingDistance) Distance(context.Context, models.Coord, models.Coord) (float64, error) {
	c.calls.Add(1)
	return 3.2, nil
}

func TestCachedDistance(t *testing.T) {
	next := &countingDistance{}
	c := CachedDistance{Next: next, Cache: NewCache(time.Minute)}
	a, b := models.Coord{Lat: 1, Lon: 2}, models.Coord{Lat: 3, Lon: 4}

	for i := 0; i < 3; i++ {
		km, err := c.Distance(context.Background(), a, b)
		require.NoError(t, err)
		assert.Equal(t, 3.2, km)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	_, _ = c.Distance(context.Background(), b, a)
	assert.Equal(t, int32(2), next.calls.Load(), "distances are directional")
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Millisecond)
	c.Set(models.Coord{}, models.Coord{Lat: 1}, 7)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(models.Coord{}, models.Coord{Lat: 1})
	assert.False(t, ok)
}

func TestStraightLine(t *testing.T) {
	s := StraightLine{SpeedMps: 10}
	a, b := models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0, Lon: 0.01}

	enc, err := s.Route(context.Background(), a, b)
	require.NoError(t, err)
	path, err := polyline.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, models.Path{a, b}, path)

	km, err := s.Distance(context.Background(), a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.112, km, 0.001)

	eta, err := s.ETA(context.Background(), a, b)
	require.NoError(t, err)
	assert.InDelta(t, 111.2, eta.Seconds(), 0.1)

	_, err = s.Route(context.Background(), a, a)
	assert.ErrorIs(t, err, apperr.ErrNoRouteFound)
}
