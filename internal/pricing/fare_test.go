package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-matching/internal/models"
)

func TestDistanceFare(t *testing.T) {
	f := DistanceFare{BaseMinor: 250, PerKmMinor: 120, MinimumMinor: 500, Currency: "eur"}

	// ~11.12 km along the equator
	m, err := f.Fare(context.Background(), models.Path{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.1}})
	require.NoError(t, err)
	assert.Equal(t, "eur", m.Currency)
	assert.Equal(t, int64(250+1334), m.Amount)
}

func TestDistanceFareMinimum(t *testing.T) {
	f := DistanceFare{BaseMinor: 100, PerKmMinor: 50, MinimumMinor: 500}
	m, err := f.Fare(context.Background(), models.Path{{Lat: 0, Lon: 0}})
	require.NoError(t, err)
	assert.Equal(t, models.Money{Amount: 500, Currency: "usd"}, m)
}
