// Package acceptance assigns a pending ride request to a driver's active
// ride. The request and the ride change together or not at all.
package acceptance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/observability"
	"github.com/example/ride-matching/internal/storage"
)

// FareHolder authorises the quoted fare once a request is accepted.
type FareHolder interface {
	Hold(ctx context.Context, rideRequestID, customerID string, fare models.Money) (string, error)
}

type AcceptCommand struct {
	RideRequestID string
	DriverID      string
}

type Result struct {
	Request *models.RideRequest `json:"ride_request"`
	Ride    *models.Ride        `json:"ride"`
	Vehicle *models.Vehicle     `json:"vehicle"`
	ETA     time.Duration       `json:"eta"`
	Fare    models.Money        `json:"fare"`
}

type Coordinator struct {
	Store    storage.Store
	ETA      collab.ETAProvider
	Fares    collab.FareProvider
	Notifier collab.Notifier
	Events   collab.EventPublisher
	Payments FareHolder // optional
	Logger   *zap.Logger
	Now      func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Accept runs in four phases: precondition reads, ETA and fare lookups,
// the locked re-read and write, then best-effort side effects. Only the
// third phase holds a transaction.
//
// Precondition errors, in the order they are checked: ErrRequestNotPending,
// ErrDriverNotFound, ErrRideNotFound, ErrPassengerNotFound and
// ErrNoSeatsAvailable. A failed write surfaces as ErrTransactionAborted.
func (c *Coordinator) Accept(ctx context.Context, cmd AcceptCommand) (*Result, error) {
	start := time.Now()
	res, err := c.accept(ctx, cmd)
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	observability.AcceptancesTotal.WithLabelValues(outcome).Inc()
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	return res, err
}

func (c *Coordinator) accept(ctx context.Context, cmd AcceptCommand) (*Result, error) {
	if cmd.RideRequestID == "" || cmd.DriverID == "" {
		return nil, apperr.Validation("ride request id and driver id are required")
	}
	log := c.Logger.With(zap.String("ride_request_id", cmd.RideRequestID), zap.String("driver_id", cmd.DriverID))

	req, vehicle, ride, passenger, err := c.preconditions(ctx, cmd)
	if err != nil {
		return nil, err
	}

	eta, fare, err := c.quote(ctx, ride.Position, passenger.Start, req.ShortestPath)
	if err != nil {
		return nil, err
	}

	var accepted *models.RideRequest
	var merged *models.Ride
	err = c.Store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		accepted, merged, err = c.apply(ctx, tx, cmd, vehicle.ID)
		return err
	})
	if err != nil {
		if e, ok := apperr.As(err); ok && (e.Kind == apperr.KindNotFound || e.Kind == apperr.KindConflict) {
			return nil, err
		}
		return nil, apperr.Aborted(err)
	}
	log.Info("ride request accepted", zap.String("ride_id", merged.ID), zap.Int("available_seats", merged.AvailableSeats))

	res := &Result{Request: accepted, Ride: merged, Vehicle: vehicle, ETA: eta, Fare: fare}
	c.afterCommit(context.WithoutCancel(ctx), log, res)
	return res, nil
}

// preconditions reads without locks. Request and vehicle are fetched
// concurrently but reported in order.
func (c *Coordinator) preconditions(ctx context.Context, cmd AcceptCommand) (*models.RideRequest, *models.Vehicle, *models.Ride, *models.RideRequest, error) {
	var (
		req                *models.RideRequest
		vehicle            *models.Vehicle
		reqErr, vehicleErr error
		g                  errgroup.Group
	)
	g.Go(func() error {
		req, reqErr = c.Store.GetRideRequest(ctx, cmd.RideRequestID)
		return nil
	})
	g.Go(func() error {
		vehicle, vehicleErr = c.Store.GetVehicleByDriver(ctx, cmd.DriverID)
		return nil
	})
	_ = g.Wait()

	if err := lookupErr(reqErr, apperr.ErrRequestNotPending); err != nil {
		return nil, nil, nil, nil, err
	}
	if req.Status != models.StatusPending {
		return nil, nil, nil, nil, apperr.ErrRequestNotPending
	}
	if err := lookupErr(vehicleErr, apperr.ErrDriverNotFound); err != nil {
		return nil, nil, nil, nil, err
	}

	ride, err := c.Store.GetActiveRideByVehicle(ctx, vehicle.ID)
	if err := lookupErr(err, apperr.ErrRideNotFound); err != nil {
		return nil, nil, nil, nil, err
	}

	// The pickup point is read again from the request's own record.
	passenger, err := c.Store.GetRideRequest(ctx, cmd.RideRequestID)
	if err := lookupErr(err, apperr.ErrPassengerNotFound); err != nil {
		return nil, nil, nil, nil, err
	}

	if ride.AvailableSeats < 1 {
		return nil, nil, nil, nil, apperr.ErrNoSeatsAvailable
	}
	return req, vehicle, ride, passenger, nil
}

func lookupErr(err error, notFound *apperr.Error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return notFound
	default:
		return fmt.Errorf("%s lookup: %w", notFound.Code, err)
	}
}

// quote fetches ETA and fare concurrently; both must succeed.
func (c *Coordinator) quote(ctx context.Context, driverPos, pickup models.Coord, route models.Path) (time.Duration, models.Money, error) {
	var (
		eta  time.Duration
		fare models.Money
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		eta, err = c.ETA.ETA(gctx, driverPos, pickup)
		return err
	})
	g.Go(func() error {
		var err error
		fare, err = c.Fares.Fare(gctx, route)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, models.Money{}, err
	}
	return eta, fare, nil
}

// apply re-reads both rows under lock and writes them. Every check made
// before the transaction is repeated here.
func (c *Coordinator) apply(ctx context.Context, tx storage.Tx, cmd AcceptCommand, vehicleID string) (*models.RideRequest, *models.Ride, error) {
	req, err := tx.LockRideRequest(ctx, cmd.RideRequestID)
	if err := lookupErr(err, apperr.ErrRequestNotPending); err != nil {
		return nil, nil, err
	}
	if req.Status != models.StatusPending {
		return nil, nil, apperr.ErrRequestNotPending
	}
	ride, err := tx.LockActiveRideByVehicle(ctx, vehicleID)
	if err := lookupErr(err, apperr.ErrRideNotFound); err != nil {
		return nil, nil, err
	}

	if err := ride.Board(req); err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrNoSeatsAvailable, err)
	}
	ride.UpdatedAt = c.now()
	if err := req.Accept(cmd.DriverID); err != nil {
		return nil, nil, err
	}

	if err := tx.UpdateRide(ctx, ride); err != nil {
		return nil, nil, err
	}
	if err := tx.UpdateRideRequest(ctx, req); err != nil {
		return nil, nil, err
	}
	return req, ride, nil
}

// afterCommit never fails the acceptance; each step logs and counts its own
// failure.
func (c *Coordinator) afterCommit(ctx context.Context, log *zap.Logger, res *Result) {
	req := res.Request

	msg := acceptedMessage(res)
	if err := c.Notifier.Notify(ctx, req.PassengerID, msg); err != nil {
		observability.SideEffectFailures.WithLabelValues("notify_passenger").Inc()
		log.Warn("passenger notification failed", zap.String("passenger_id", req.PassengerID), zap.Error(err))
	}

	if c.Payments != nil && res.Fare.Amount > 0 {
		if id, err := c.Payments.Hold(ctx, req.ID, "", res.Fare); err != nil {
			observability.SideEffectFailures.WithLabelValues("fare_hold").Inc()
			log.Warn("fare hold failed", zap.Stringer("fare", res.Fare), zap.Error(err))
		} else {
			log.Info("fare held", zap.String("payment_intent_id", id))
		}
	}

	if c.Events != nil {
		e := collab.Event{Type: collab.EventRideRequestAccepted, RideRequestID: req.ID, At: c.now(), Request: req.Clone(), Ride: res.Ride.Clone()}
		if err := c.Events.Publish(ctx, e); err != nil {
			observability.SideEffectFailures.WithLabelValues("publish_" + e.Type).Inc()
			log.Warn("event publish failed", zap.String("event", e.Type), zap.Error(err))
		}
	}
}

func acceptedMessage(res *Result) collab.Message {
	pickup := "is on the way to pick you up."
	if res.Request.IsScheduled && res.Request.ScheduledTime != nil {
		pickup = "will pick you up at " + res.Request.ScheduledTime.Format(time.RFC3339) + "."
	}
	text := fmt.Sprintf("%s %s ETA: %s", res.Vehicle.Descriptor(), pickup, formatETA(res.ETA))
	return collab.Message{
		Text: text,
		Extra: map[string]any{
			"ride_request_id": res.Request.ID,
			"driver_id":       res.Request.DriverID,
			"eta_seconds":     int64(res.ETA.Seconds()),
			"fare":            res.Fare,
		},
	}
}

// formatETA rounds up to whole minutes.
func formatETA(d time.Duration) string {
	m := int(math.Ceil(d.Minutes()))
	if m < 1 {
		m = 1
	}
	if m == 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d min", m)
}
