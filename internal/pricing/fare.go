// Package pricing provides the fare estimate quoted to a passenger when a
// driver accepts their request.
package pricing

import (
	"context"
	"math"

	"github.com/example/ride-matching/internal/geo"
	"github.com/example/ride-matching/internal/models"
)

// DistanceFare charges a base amount plus a per-km rate over the request's
// route, never less than MinimumMinor. Amounts are in minor units.
type DistanceFare struct {
	BaseMinor    int64
	PerKmMinor   int64
	MinimumMinor int64
	Currency     string
}

func (f DistanceFare) Fare(_ context.Context, route models.Path) (models.Money, error) {
	km := geo.PathLengthKm(route)
	amount := f.BaseMinor + int64(math.Round(km*float64(f.PerKmMinor)))
	if amount < f.MinimumMinor {
		amount = f.MinimumMinor
	}
	cur := f.Currency
	if cur == "" {
		cur = "usd"
	}
	return models.Money{Amount: amount, Currency: cur}, nil
}
