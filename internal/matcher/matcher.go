// Package matcher turns a passenger's trip into a pending ride request and
// offers it to nearby drivers.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/dispatch"
	"github.com/example/ride-matching/internal/geo"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/observability"
	"github.com/example/ride-matching/internal/polyline"
	"github.com/example/ride-matching/internal/storage"
)

// Options selects one of the four submission variants.
type Options struct {
	Scheduled bool
	Pooled    bool
}

func (o Options) mode() string {
	m := "solo"
	if o.Pooled {
		m = "pooled"
	}
	if o.Scheduled {
		m += "_scheduled"
	}
	return m
}

type SubmitCommand struct {
	PassengerID   string
	PassengerName string
	Start         models.Coord
	End           models.Coord
	ScheduledTime *time.Time
	Options       Options
}

// Result is the persisted request and one Delivery per notified driver.
type Result struct {
	Request    *models.RideRequest
	Deliveries []dispatch.Delivery
}

type Service struct {
	Store             storage.Store
	Routes            collab.RouteProvider
	Drivers           collab.DriverLocator
	Notifier          collab.Notifier
	Events            collab.EventPublisher
	Pooling           *geo.Analyzer
	Logger            *zap.Logger
	TopN              int
	FanoutParallelism int

	Now   func() time.Time
	NewID func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Submit routes, persists and fans out a new ride request. Nothing is
// persisted when validation or routing fails. Notification failures are
// reported in the result and never fail the call.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Result, error) {
	start := time.Now()
	res, err := s.submit(ctx, cmd)
	observability.RideRequestsTotal.WithLabelValues(cmd.Options.mode(), outcome(err)).Inc()
	observability.SubmitLatency.Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Service) submit(ctx context.Context, cmd SubmitCommand) (*Result, error) {
	if err := validate(cmd); err != nil {
		return nil, err
	}

	req := &models.RideRequest{
		ID:          s.newID(),
		PassengerID: cmd.PassengerID,
		Start:       cmd.Start,
		End:         cmd.End,
		RequestTime: s.now(),
		IsScheduled: cmd.Options.Scheduled,
		IsPooled:    cmd.Options.Pooled,
		Status:      models.StatusPending,
	}
	if cmd.Options.Scheduled {
		t := cmd.ScheduledTime.UTC()
		req.ScheduledTime = &t
	}

	encoded, err := s.Routes.Route(ctx, cmd.Start, cmd.End)
	if err != nil {
		return nil, fmt.Errorf("route %s -> %s: %w", cmd.Start, cmd.End, err)
	}
	if req.ShortestPath, err = polyline.Decode(encoded); err != nil {
		return nil, err
	}
	if len(req.ShortestPath) == 0 {
		return nil, apperr.ErrNoRouteFound
	}

	if err := s.Store.CreateRideRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist ride request: %w", err)
	}
	log := s.Logger.With(zap.String("ride_request_id", req.ID), zap.String("mode", cmd.Options.mode()))

	// From here on the request exists; every failure is reported, not returned.
	deliveries := s.offer(ctx, log, req, cmd.PassengerName)
	s.publish(ctx, log, collab.Event{Type: collab.EventRideRequestCreated, RideRequestID: req.ID, At: req.RequestTime, Request: req.Clone()})

	log.Info("ride request submitted", zap.Int("drivers_notified", len(deliveries)))
	return &Result{Request: req, Deliveries: deliveries}, nil
}

func (s *Service) offer(ctx context.Context, log *zap.Logger, req *models.RideRequest, passengerName string) []dispatch.Delivery {
	nearby, err := s.Drivers.FindNearby(ctx, req.Start)
	if err != nil {
		log.Warn("driver lookup failed", zap.Error(err))
		return []dispatch.Delivery{}
	}
	if s.TopN > 0 && len(nearby) > s.TopN {
		nearby = nearby[:s.TopN]
	}
	if req.IsPooled {
		nearby = s.poolCandidates(ctx, log, req, nearby)
	}
	observability.CandidateDrivers.Observe(float64(len(nearby)))

	deliveries := dispatch.Fanout(ctx, s.Notifier, nearby, newRequestMessage(req, passengerName), s.FanoutParallelism)
	for _, d := range deliveries {
		if d.Err != nil {
			log.Warn("driver notification failed", zap.String("driver_id", d.DriverID), zap.Error(d.Err))
		}
	}
	return deliveries
}

// poolCandidates keeps drivers whose active ride has a free seat and can
// absorb the request's trip. Drivers without a vehicle or an active ride
// are skipped.
func (s *Service) poolCandidates(ctx context.Context, log *zap.Logger, req *models.RideRequest, drivers []string) []string {
	keep := make([]bool, len(drivers))
	g, gctx := errgroup.WithContext(ctx)
	if s.FanoutParallelism > 0 {
		g.SetLimit(s.FanoutParallelism)
	}
	for i, driverID := range drivers {
		g.Go(func() error {
			ok, reason, err := s.poolable(gctx, driverID, req)
			if err != nil {
				reason = "error"
				log.Warn("pooling check failed", zap.String("driver_id", driverID), zap.Error(err))
			}
			observability.PoolingDecisions.WithLabelValues(reason).Inc()
			keep[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(drivers))
	for i, id := range drivers {
		if keep[i] {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) poolable(ctx context.Context, driverID string, req *models.RideRequest) (bool, string, error) {
	vehicle, err := s.Store.GetVehicleByDriver(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, "no_vehicle", nil
	}
	if err != nil {
		return false, "", err
	}
	ride, err := s.Store.GetActiveRideByVehicle(ctx, vehicle.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, "no_active_ride", nil
	}
	if err != nil {
		return false, "", err
	}
	if ride.AvailableSeats < 1 {
		return false, "full", nil
	}
	if len(ride.ShortestPath) == 0 {
		return true, "eligible", nil
	}
	d, err := s.Pooling.Evaluate(ctx, ride.ShortestPath, req.Start, req.End)
	if err != nil {
		return false, "", err
	}
	if !d.Eligible {
		return false, d.Reason, nil
	}
	return true, "eligible", nil
}

func newRequestMessage(req *models.RideRequest, passengerName string) collab.Message {
	text := "New ride request"
	if passengerName != "" {
		text = "New ride request from " + passengerName
	}
	extra := map[string]any{
		"ride_request_id": req.ID,
		"start":           req.Start,
		"end":             req.End,
		"is_pooled":       req.IsPooled,
		"is_scheduled":    req.IsScheduled,
	}
	if req.ScheduledTime != nil {
		extra["scheduled_time"] = req.ScheduledTime.Format(time.RFC3339)
	}
	return collab.Message{Text: text, Extra: extra}
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, e collab.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, e); err != nil {
		observability.SideEffectFailures.WithLabelValues("publish_" + e.Type).Inc()
		log.Warn("event publish failed", zap.String("event", e.Type), zap.Error(err))
	}
}

func validate(cmd SubmitCommand) error {
	if cmd.PassengerID == "" {
		return apperr.Validation("passenger id is required")
	}
	if err := validCoord("start_location", cmd.Start); err != nil {
		return err
	}
	if err := validCoord("end_location", cmd.End); err != nil {
		return err
	}
	if cmd.Options.Scheduled && (cmd.ScheduledTime == nil || cmd.ScheduledTime.IsZero()) {
		return apperr.Validation("scheduled_time is required for a scheduled request")
	}
	return nil
}

func validCoord(field string, c models.Coord) error {
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return apperr.Validation("%s is out of range: %s", field, c)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
