package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionsOnlyLeavePending(t *testing.T) {
	all := []Status{StatusPending, StatusAccepted, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			want := from == StatusPending && to != StatusPending
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestAcceptSetsDriverOnce(t *testing.T) {
	r := &RideRequest{ID: "rr1", Status: StatusPending}
	require.NoError(t, r.Accept("d1"))
	assert.Equal(t, StatusAccepted, r.Status)
	assert.Equal(t, "d1", r.DriverID)

	err := r.Accept("d2")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, "d1", r.DriverID)
}

func TestCancelledIsTerminal(t *testing.T) {
	r := &RideRequest{Status: StatusPending}
	require.NoError(t, r.Transition(StatusCancelled))
	assert.True(t, r.Status.Terminal())
	assert.ErrorIs(t, r.Transition(StatusAccepted), ErrInvalidTransition)
	assert.Equal(t, StatusCancelled, r.Status)
}

func TestBoardConservesCapacity(t *testing.T) {
	ride := &Ride{NumberOfPassengers: 1, AvailableSeats: 2}
	req := &RideRequest{End: Coord{Lat: 1, Lon: 2}, ShortestPath: Path{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 2}}}
	capacity := ride.Capacity()

	require.NoError(t, ride.Board(req))
	assert.Equal(t, 2, ride.NumberOfPassengers)
	assert.Equal(t, 1, ride.AvailableSeats)
	assert.Equal(t, capacity, ride.Capacity())
	assert.Equal(t, req.End, ride.Destination)
	assert.Equal(t, req.ShortestPath, ride.ShortestPath)

	req.ShortestPath[0].Lat = 9
	assert.Equal(t, 0.0, ride.ShortestPath[0].Lat, "ride must not alias the request path")
}

func TestBoardRefusesFullRide(t *testing.T) {
	ride := &Ride{NumberOfPassengers: 4, AvailableSeats: 0}
	assert.ErrorIs(t, ride.Board(&RideRequest{}), ErrNoSeats)
	assert.Equal(t, 4, ride.NumberOfPassengers)
}

func TestVehicleDescriptor(t *testing.T) {
	v := &Vehicle{Make: "Toyota", Model: "Prius", Color: "white", LicensePlate: "ABC-123"}
	assert.Equal(t, "A Toyota Prius color white with license plate ABC-123", v.Descriptor())
	v.Name = "Comfort"
	assert.Equal(t, "A Comfort, Toyota Prius color white with license plate ABC-123", v.Descriptor())
}
