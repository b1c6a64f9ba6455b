// Package storage persists ride requests, rides and vehicles. Writes that
// must be atomic go through WithinTx, which locks the rows it reads.
package storage

import (
	"context"
	"errors"

	"github.com/example/ride-matching/internal/models"
)

var ErrNotFound = errors.New("not found")

// Filter narrows ListRideRequests. Nil fields match anything.
type Filter struct {
	Status    models.Status
	Pooled    *bool
	Scheduled *bool
}

func (f Filter) Match(r *models.RideRequest) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Pooled != nil && r.IsPooled != *f.Pooled {
		return false
	}
	if f.Scheduled != nil && r.IsScheduled != *f.Scheduled {
		return false
	}
	return true
}

// Store is the non-transactional side of persistence plus the entry point
// into a unit of work.
type Store interface {
	GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error)
	ListRideRequests(ctx context.Context, f Filter) ([]*models.RideRequest, error)
	CreateRideRequest(ctx context.Context, r *models.RideRequest) error

	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	GetVehicleByDriver(ctx context.Context, driverID string) (*models.Vehicle, error)
	GetActiveRideByVehicle(ctx context.Context, vehicleID string) (*models.Ride, error)
	SaveVehicle(ctx context.Context, v *models.Vehicle) error
	SaveRide(ctx context.Context, r *models.Ride) error

	// WithinTx runs fn in a transaction. A non-nil return from fn, a panic,
	// or a cancelled ctx rolls back every write fn made.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx reads hold their rows until the transaction ends.
type Tx interface {
	LockRideRequest(ctx context.Context, id string) (*models.RideRequest, error)
	LockActiveRideByVehicle(ctx context.Context, vehicleID string) (*models.Ride, error)
	UpdateRideRequest(ctx context.Context, r *models.RideRequest) error
	UpdateRide(ctx context.Context, r *models.Ride) error
}
