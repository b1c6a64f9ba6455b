package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-matching/internal/models"
)

// RedisGeo implements Locator using Redis GEO commands. Only online
// drivers are members of the GEO set; metadata lives in a hash per driver.
type RedisGeo struct {
	client   *redis.Client
	key      string
	radiusKm float64
	limit    int
	now      func() time.Time
}

func NewRedisGeo(client *redis.Client, key string, radiusKm float64, limit int) *RedisGeo {
	return &RedisGeo{client: client, key: key, radiusKm: radiusKm, limit: limit, now: time.Now}
}

// Upsert records the driver's position. Going offline removes the driver
// from the GEO set so radius queries never spend their count on them.
func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if d.Online {
		if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}).Err(); err != nil {
			return fmt.Errorf("geoadd %s: %w", d.ID, err)
		}
	} else if err := r.client.ZRem(ctx, r.key, d.ID).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", d.ID, err)
	}
	err := r.client.HSet(ctx, MetaKey(d.ID),
		"rating", strconv.FormatFloat(d.Rating, 'f', -1, 64),
		"online", strconv.FormatBool(d.Online),
		"updated", r.now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("hset %s: %w", d.ID, err)
	}
	return nil
}

// FindNearby returns up to limit online drivers inside the radius, closest
// first. The radius query is not capped: members whose metadata still says
// offline are skipped before the limit applies.
func (r *RedisGeo) FindNearby(ctx context.Context, origin models.Coord) ([]string, error) {
	res, err := r.client.GeoRadius(ctx, r.key, origin.Lon, origin.Lat, &redis.GeoRadiusQuery{
		Radius:   r.radiusKm,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius %s: %w", r.key, err)
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		if r.limit > 0 && len(out) == r.limit {
			break
		}
		online, err := r.client.HGet(ctx, MetaKey(g.Name), "online").Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("driver meta %s: %w", g.Name, err)
		}
		if online == "false" {
			continue
		}
		out = append(out, g.Name)
	}
	return out, nil
}

func MetaKey(id string) string { return "driver:meta:" + id }
