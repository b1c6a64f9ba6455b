package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/polyline"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

var (
	requestColumns = []string{"id", "passenger_id", "driver_id", "start_lat", "start_lon", "end_lat", "end_lon",
		"request_time", "is_scheduled", "scheduled_time", "is_pooled", "shortest_path", "status"}
	rideColumns = []string{"id", "vehicle_id", "position_lat", "position_lon", "destination_lat", "destination_lon",
		"number_of_passengers", "available_seats", "shortest_path", "active", "updated_at"}
)

const refPolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

func TestPostgresGetRideRequest(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM ride_requests WHERE id = $1")).
		WithArgs("rr-1").
		WillReturnRows(sqlmock.NewRows(requestColumns).
			AddRow("rr-1", "p-1", nil, 38.5, -120.2, 43.252, -126.453, now, true, now.Add(time.Hour), false, refPolyline, "pending"))

	r, err := store.GetRideRequest(context.Background(), "rr-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", r.PassengerID)
	assert.Empty(t, r.DriverID)
	assert.Equal(t, models.StatusPending, r.Status)
	require.NotNil(t, r.ScheduledTime)
	assert.Equal(t, now.Add(time.Hour), *r.ScheduledTime)
	assert.Len(t, r.ShortestPath, 3)
	assert.Equal(t, models.Coord{Lat: 43.252, Lon: -126.453}, r.ShortestPath[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRideRequestNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM ride_requests").WillReturnError(sql.ErrNoRows)

	_, err := store.GetRideRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListRideRequestsFilter(t *testing.T) {
	store, mock := newMockStore(t)
	pooled := true

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND is_pooled = $2 ORDER BY request_time DESC")).
		WithArgs("accepted", true).
		WillReturnRows(sqlmock.NewRows(requestColumns).
			AddRow("rr-1", "p-1", "d-1", 1.0, 1.0, 2.0, 2.0, time.Now(), false, nil, true, "", "accepted"))

	out, err := store.ListRideRequests(context.Background(), Filter{Status: models.StatusAccepted, Pooled: &pooled})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d-1", out[0].DriverID)
	assert.Nil(t, out[0].ScheduledTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateRideRequestEncodesPath(t *testing.T) {
	store, mock := newMockStore(t)
	path, err := polyline.Decode(refPolyline)
	require.NoError(t, err)
	r := &models.RideRequest{ID: "rr-1", PassengerID: "p-1", RequestTime: time.Now(), ShortestPath: path, Status: models.StatusPending}

	mock.ExpectExec("INSERT INTO ride_requests").
		WithArgs("rr-1", "p-1", nil, 0.0, 0.0, 0.0, 0.0, sqlmock.AnyArg(), false, nil, false, refPolyline, "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateRideRequest(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWithinTxLocksAndCommits(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM ride_requests WHERE id = $1 FOR UPDATE")).
		WithArgs("rr-1").
		WillReturnRows(sqlmock.NewRows(requestColumns).
			AddRow("rr-1", "p-1", nil, 1.0, 1.0, 2.0, 2.0, now, false, nil, false, "", "pending"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rides WHERE vehicle_id = $1 AND active ORDER BY updated_at DESC LIMIT 1 FOR UPDATE")).
		WithArgs("v-1").
		WillReturnRows(sqlmock.NewRows(rideColumns).
			AddRow("ride-1", "v-1", 0.0, 0.0, 0.0, 0.0, 1, 3, "", true, now))
	mock.ExpectExec("UPDATE rides SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE ride_requests SET").
		WithArgs("d-1", "accepted", "rr-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		req, err := tx.LockRideRequest(ctx, "rr-1")
		if err != nil {
			return err
		}
		ride, err := tx.LockActiveRideByVehicle(ctx, "v-1")
		if err != nil {
			return err
		}
		if err := ride.Board(req); err != nil {
			return err
		}
		if err := req.Accept("d-1"); err != nil {
			return err
		}
		if err := tx.UpdateRide(ctx, ride); err != nil {
			return err
		}
		return tx.UpdateRideRequest(ctx, req)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWithinTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE ride_requests SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.UpdateRideRequest(ctx, &models.RideRequest{ID: "rr-1", Status: models.StatusCancelled}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMissingRowIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE rides SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateRide(ctx, &models.Ride{ID: "nope"})
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommitFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := store.WithinTx(context.Background(), func(context.Context, Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
}

func TestPostgresMigrate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS vehicles")).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.Migrate(context.Background(), "CREATE TABLE IF NOT EXISTS vehicles (id TEXT)"))

	mock.ExpectExec("CREATE").WillReturnError(errors.New("syntax error"))
	err := store.Migrate(context.Background(), "CREATE nonsense")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetVehicle(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "driver_id", "name", "make", "model", "color", "license_plate", "capacity"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM vehicles WHERE id = $1")).
		WithArgs("v-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("v-1", "d-1", "Blue", "VW", "Golf", "blue", "B-1", 4))
	mock.ExpectQuery(regexp.QuoteMeta("FROM vehicles WHERE id = $1")).
		WithArgs("v-x").
		WillReturnError(sql.ErrNoRows)

	v, err := store.GetVehicle(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, "d-1", v.DriverID)
	assert.Equal(t, 4, v.Capacity)

	_, err = store.GetVehicle(context.Background(), "v-x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
