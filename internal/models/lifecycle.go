package models

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid ride request transition")
	ErrNoSeats           = errors.New("no seats available")
)

// AllowedTransitions is the ride request state machine. Accepted and
// cancelled are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPending: {StatusAccepted, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusAccepted || s == StatusCancelled }

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the request to the given status or fails without
// touching it.
func (r *RideRequest) Transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// Accept assigns the driver and marks the request accepted.
func (r *RideRequest) Accept(driverID string) error {
	if err := r.Transition(StatusAccepted); err != nil {
		return err
	}
	r.DriverID = driverID
	return nil
}
