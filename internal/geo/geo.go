package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-matching/internal/models"
)

// Locator is a driver proximity index fed by location updates.
type Locator interface {
	FindNearby(ctx context.Context, origin models.Coord) ([]string, error)
	Upsert(ctx context.Context, d models.Driver) error
}

// Index is an in-memory Locator used when Redis is not configured.
type Index struct {
	mu       sync.RWMutex
	drivers  map[string]models.Driver
	radiusKm float64
	limit    int
}

func NewIndex(radiusKm float64, limit int) *Index {
	return &Index{drivers: make(map[string]models.Driver), radiusKm: radiusKm, limit: limit}
}

func (g *Index) Upsert(_ context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

// FindNearby returns online drivers within the radius, closest first.
// naive scan; in prod use the Redis index
func (g *Index) FindNearby(_ context.Context, origin models.Coord) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		dist := Haversine(origin.Lat, origin.Lon, d.Loc.Lat, d.Loc.Lon)
		if g.radiusKm > 0 && dist > g.radiusKm*1000 {
			continue
		}
		arr = append(arr, pair{d.ID, dist})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist == arr[j].dist {
			return arr[i].id < arr[j].id
		}
		return arr[i].dist < arr[j].dist
	})
	if g.limit > 0 && len(arr) > g.limit {
		arr = arr[:g.limit]
	}
	out := make([]string, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.id)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// PathLengthKm sums the great-circle length of consecutive segments.
func PathLengthKm(p models.Path) float64 {
	var m float64
	for i := 1; i < len(p); i++ {
		m += Haversine(p[i-1].Lat, p[i-1].Lon, p[i].Lat, p[i].Lon)
	}
	return m / 1000
}
