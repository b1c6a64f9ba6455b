// Package requests serves ride request queries and passenger cancellation.
package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/observability"
	"github.com/example/ride-matching/internal/storage"
)

// View names the listing combinations exposed to clients.
type View string

const (
	ViewAll               View = "all"
	ViewPooled            View = "pooled"
	ViewScheduled         View = "scheduled"
	ViewScheduledPooled   View = "scheduled_pooled"
	ViewScheduledAccepted View = "scheduled_accepted"
)

// Filter returns the storage filter for a named view. The pooled and
// scheduled views match on the flags alone, whatever the status; combine
// them with a status query parameter to narrow further.
func (v View) Filter() (storage.Filter, error) {
	yes := true
	switch v {
	case ViewAll, "":
		return storage.Filter{}, nil
	case ViewPooled:
		return storage.Filter{Pooled: &yes}, nil
	case ViewScheduled:
		return storage.Filter{Scheduled: &yes}, nil
	case ViewScheduledPooled:
		return storage.Filter{Scheduled: &yes, Pooled: &yes}, nil
	case ViewScheduledAccepted:
		return storage.Filter{Status: models.StatusAccepted, Scheduled: &yes}, nil
	}
	return storage.Filter{}, apperr.Validation("unknown view %q", v)
}

type Service struct {
	Store  storage.Store
	Events collab.EventPublisher
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *Service) Get(ctx context.Context, id string) (*models.RideRequest, error) {
	r, err := s.Store.GetRideRequest(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "ride_request_not_found", "ride request not found")
	}
	return r, err
}

func (s *Service) List(ctx context.Context, f storage.Filter) ([]*models.RideRequest, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	return s.Store.ListRideRequests(ctx, f)
}

// Cancel moves a pending request owned by passengerID to cancelled. The
// record is kept.
func (s *Service) Cancel(ctx context.Context, id, passengerID string) (*models.RideRequest, error) {
	var cancelled *models.RideRequest
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.LockRideRequest(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrRequestNotPending
		}
		if err != nil {
			return err
		}
		if passengerID != "" && r.PassengerID != passengerID {
			return apperr.ErrRequestNotPending
		}
		if err := r.Transition(models.StatusCancelled); err != nil {
			return apperr.Wrap(apperr.ErrRequestNotPending, err)
		}
		if err := tx.UpdateRideRequest(ctx, r); err != nil {
			return err
		}
		cancelled = r
		return nil
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Aborted(fmt.Errorf("cancel %s: %w", id, err))
	}
	observability.CancellationsTotal.Inc()

	if s.Events != nil {
		at := time.Now().UTC()
		if s.Now != nil {
			at = s.Now()
		}
		e := collab.Event{Type: collab.EventRideRequestCancelled, RideRequestID: id, At: at, Request: cancelled.Clone()}
		if err := s.Events.Publish(context.WithoutCancel(ctx), e); err != nil {
			observability.SideEffectFailures.WithLabelValues("publish_" + e.Type).Inc()
			s.Logger.Warn("event publish failed", zap.String("ride_request_id", id), zap.String("event", e.Type), zap.Error(err))
		}
	}
	return cancelled, nil
}
