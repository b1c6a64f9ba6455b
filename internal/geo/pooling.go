package geo

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/models"
)

var ErrEmptyRoute = errors.New("reference route has no points")

// Analyzer decides whether a new trip can be pooled into an existing route.
type Analyzer struct {
	Distances   collab.RouteDistanceProvider
	MaxDetourKm float64
	MaxAngleDeg float64
}

func NewAnalyzer(distances collab.RouteDistanceProvider, maxDetourKm, maxAngleDeg float64) *Analyzer {
	if maxAngleDeg <= 0 {
		maxAngleDeg = DefaultMaxAngleDeg
	}
	return &Analyzer{Distances: distances, MaxDetourKm: maxDetourKm, MaxAngleDeg: maxAngleDeg}
}

// DetourDistance is the extra road distance of driving
// refStart -> start -> end -> refEnd instead of refStart -> refEnd.
// The four legs are fetched concurrently.
func (a *Analyzer) DetourDistance(ctx context.Context, ref models.Path, start, end models.Coord) (float64, error) {
	refStart, ok := ref.First()
	if !ok {
		return 0, ErrEmptyRoute
	}
	refEnd, _ := ref.Last()

	legs := [4][2]models.Coord{
		{refStart, refEnd},
		{refStart, start},
		{start, end},
		{end, refEnd},
	}
	var km [4]float64
	g, gctx := errgroup.WithContext(ctx)
	for i := range legs {
		g.Go(func() error {
			d, err := a.Distances.Distance(gctx, legs[i][0], legs[i][1])
			if err != nil {
				return fmt.Errorf("leg %s -> %s: %w", legs[i][0], legs[i][1], err)
			}
			km[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return km[1] + km[2] + km[3] - km[0], nil
}

type PoolingDecision struct {
	Eligible  bool
	AngleDiff float64
	DetourKm  float64
	Reason    string
}

// Evaluate applies both checks. Direction is checked first since it needs
// no provider calls; an incompatible heading skips the detour lookup.
func (a *Analyzer) Evaluate(ctx context.Context, ref models.Path, start, end models.Coord) (PoolingDecision, error) {
	ok, diff, err := DirectionCompatible(ref, start, end, a.MaxAngleDeg)
	if errors.Is(err, ErrDegenerateRoute) {
		return PoolingDecision{Reason: "degenerate_route"}, nil
	}
	if err != nil {
		return PoolingDecision{}, err
	}
	if !ok {
		return PoolingDecision{AngleDiff: diff, Reason: "direction"}, nil
	}

	detour, err := a.DetourDistance(ctx, ref, start, end)
	if err != nil {
		return PoolingDecision{AngleDiff: diff}, err
	}
	d := PoolingDecision{AngleDiff: diff, DetourKm: detour}
	if detour > a.MaxDetourKm {
		d.Reason = "detour"
		return d, nil
	}
	d.Eligible = true
	return d, nil
}
