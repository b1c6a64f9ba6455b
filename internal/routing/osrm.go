package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/models"
)

// OSRMClient performs route, distance and ETA lookups against an OSRM HTTP
// server. OSRM's default geometry is a precision-5 encoded polyline.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 5 * time.Second}}
}

type osrmRoute struct {
	Geometry string  `json:"geometry"`
	Distance float64 `json:"distance"` // meters
	Duration float64 `json:"duration"` // seconds
}

func (o *OSRMClient) route(ctx context.Context, from, to models.Coord, overview string) (osrmRoute, error) {
	// /route/v1/driving/{lon1},{lat1};{lon2},{lat2}
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=%s&geometries=polyline",
		o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat, overview)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return osrmRoute{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return osrmRoute{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Code    string      `json:"code"`
		Message string      `json:"message"`
		Routes  []osrmRoute `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return osrmRoute{}, fmt.Errorf("osrm decode (status %d): %w", resp.StatusCode, err)
	}
	switch {
	case out.Code == "NoRoute" || (out.Code == "Ok" && len(out.Routes) == 0):
		return osrmRoute{}, apperr.ErrNoRouteFound
	case out.Code != "Ok":
		return osrmRoute{}, fmt.Errorf("osrm %s: %s", out.Code, out.Message)
	}
	return out.Routes[0], nil
}

// Route returns the encoded full-resolution geometry.
func (o *OSRMClient) Route(ctx context.Context, origin, destination models.Coord) (string, error) {
	r, err := o.route(ctx, origin, destination, "full")
	if err != nil {
		return "", err
	}
	if r.Geometry == "" {
		return "", apperr.ErrNoRouteFound
	}
	return r.Geometry, nil
}

// Distance returns the road distance in kilometres.
func (o *OSRMClient) Distance(ctx context.Context, a, b models.Coord) (float64, error) {
	r, err := o.route(ctx, a, b, "false")
	if err != nil {
		return 0, err
	}
	return r.Distance / 1000, nil
}

func (o *OSRMClient) ETA(ctx context.Context, from, to models.Coord) (time.Duration, error) {
	r, err := o.route(ctx, from, to, "false")
	if err != nil {
		return 0, err
	}
	return time.Duration(r.Duration * float64(time.Second)), nil
}
