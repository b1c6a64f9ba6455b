package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUpstream = errors.New("upstream 502")

func newTestGuard(t *testing.T, timeout time.Duration, threshold int) *Guard {
	t.Helper()
	s := BuildSettings("test-"+t.Name(), timeout, time.Minute, time.Minute, threshold)
	return NewGuard(s, zap.NewNop())
}

func TestCallReturnsValue(t *testing.T) {
	g := newTestGuard(t, time.Second, 3)
	v, err := Call(context.Background(), g, func(context.Context) (float64, error) { return 4.2, nil })
	require.NoError(t, err)
	assert.Equal(t, 4.2, v)
}

func TestCallTimesOutEvenWhenCalleeIgnoresContext(t *testing.T) {
	g := newTestGuard(t, 20*time.Millisecond, 3)
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Call(context.Background(), g, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	g := newTestGuard(t, time.Second, 2)
	fail := func(context.Context) (int, error) { return 0, errUpstream }

	for i := 0; i < 2; i++ {
		_, err := Call(context.Background(), g, fail)
		assert.ErrorIs(t, err, errUpstream)
	}
	calls := 0
	_, err := Call(context.Background(), g, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)
}

func TestHealthyErrorsDoNotTrip(t *testing.T) {
	errNoPath := errors.New("no path")
	s := BuildSettings("healthy-"+t.Name(), time.Second, time.Minute, time.Minute, 1)
	s.Healthy = func(err error) bool { return errors.Is(err, errNoPath) }
	g := NewGuard(s, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := Call(context.Background(), g, func(context.Context) (string, error) { return "", errNoPath })
		assert.ErrorIs(t, err, errNoPath)
	}
	v, err := Call(context.Background(), g, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestBuildSettingsDefaults(t *testing.T) {
	s := BuildSettings("", 0, 0, 0, 0)
	assert.Equal(t, 5*time.Second, s.Timeout)
	assert.Equal(t, time.Minute, s.Interval)
	assert.Equal(t, 30*time.Second, s.OpenTimeout)
	assert.Equal(t, uint32(5), s.FailureThreshold)
}
