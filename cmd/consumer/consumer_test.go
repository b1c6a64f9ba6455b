package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-matching/internal/models"
)

// fakeSink fails the first failN upserts.
type fakeSink struct {
	mu    sync.Mutex
	failN int
	calls int
	last  models.Driver
}

func (f *fakeSink) Upsert(_ context.Context, d models.Driver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("redis down")
	}
	f.last = d
	return nil
}

func TestUpsertWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeSink{failN: 2}
	d := models.Driver{ID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, Rating: 4.5, Online: true}
	start := time.Now()

	require.NoError(t, upsertWithRetry(context.Background(), f, d, 3, 10*time.Millisecond))
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, d, f.last)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "delay doubles between attempts")
}

func TestUpsertWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeSink{failN: 5}
	err := upsertWithRetry(context.Background(), f, models.Driver{ID: "d1"}, 3, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d1")
	assert.Equal(t, 3, f.calls)
}

func TestUpsertWithRetryStopsOnCancel(t *testing.T) {
	f := &fakeSink{failN: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, upsertWithRetry(ctx, f, models.Driver{ID: "d1"}, 3, time.Second))
	assert.Equal(t, 1, f.calls)
}

func TestHandleMessage(t *testing.T) {
	f := &fakeSink{}
	require.NoError(t, handleMessage(context.Background(), f, []byte(`{"id":"d7","loc":{"lat":1.5,"lon":2.5},"rating":4.9,"online":true}`)))
	assert.Equal(t, "d7", f.last.ID)
	assert.Equal(t, models.Coord{Lat: 1.5, Lon: 2.5}, f.last.Loc)

	assert.ErrorIs(t, handleMessage(context.Background(), f, []byte(`not json`)), errInvalidMessage)
	assert.ErrorIs(t, handleMessage(context.Background(), f, []byte(`{"loc":{"lat":1,"lon":1}}`)), errInvalidMessage)
	assert.Equal(t, 1, f.calls)
}
