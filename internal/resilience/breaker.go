package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

// Settings are the tuning knobs of one collaborator guard.
type Settings struct {
	Name             string
	Timeout          time.Duration // per call
	Interval         time.Duration // closed-state counter reset
	OpenTimeout      time.Duration // how long the breaker stays open
	FailureThreshold uint32
	// Healthy reports errors that say nothing about the collaborator's
	// health (e.g. "no route exists"); they do not trip the breaker.
	Healthy func(error) bool
}

// BuildSettings fills defaults for zero values.
func BuildSettings(name string, timeout, interval, openTimeout time.Duration, failureThreshold int) Settings {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return Settings{
		Name:             name,
		Timeout:          timeout,
		Interval:         interval,
		OpenTimeout:      openTimeout,
		FailureThreshold: uint32(failureThreshold),
	}
}

// Guard bounds every call with a timeout and a circuit breaker.
type Guard struct {
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewGuard(s Settings, logger *zap.Logger) *Guard {
	name := nextBreakerName(s.Name)
	healthy := s.Healthy
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recordBreakerStateChange(name, from, to)
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return healthy != nil && healthy(err)
		},
	}
	recordBreakerState(name, gobreaker.StateClosed)
	return &Guard{name: name, timeout: s.Timeout, cb: gobreaker.NewCircuitBreaker(st), logger: logger}
}

func (g *Guard) Name() string { return g.name }

type result[T any] struct {
	v   T
	err error
}

// Call runs fn under g. The caller gets context.DeadlineExceeded when fn
// outlives the timeout, even if fn ignores its context.
func Call[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	recordBreakerRequest(g.name)

	v, err := g.cb.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		done := make(chan result[T], 1)
		go func() {
			v, err := fn(cctx)
			done <- result[T]{v: v, err: err}
		}()
		select {
		case r := <-done:
			return r.v, r.err
		case <-cctx.Done():
			return zero, cctx.Err()
		}
	})
	observeCall(g.name, time.Since(start), err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		recordBreakerFallback(g.name)
		return zero, ErrCircuitOpen
	}
	if err != nil {
		recordBreakerFailure(g.name)
	}
	out, _ := v.(T)
	return out, err
}
