package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/polyline"
)

// PostgresStore persists to the tables in migrations/001_create_ride_tables.sql.
// Paths are stored as encoded polylines.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies a schema script. Scripts use IF NOT EXISTS so reruns are
// harmless.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	if _, err := p.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	requestCols = `id, passenger_id, driver_id, start_lat, start_lon, end_lat, end_lon, request_time,
		is_scheduled, scheduled_time, is_pooled, shortest_path, status`
	rideCols    = `id, vehicle_id, position_lat, position_lon, destination_lat, destination_lon,
		number_of_passengers, available_seats, shortest_path, active, updated_at`
	vehicleCols = `id, driver_id, name, make, model, color, license_plate, capacity`
)

func scanRideRequest(s scanner) (*models.RideRequest, error) {
	var (
		r        models.RideRequest
		driverID sql.NullString
		sched    sql.NullTime
		path     string
		status   string
	)
	err := s.Scan(&r.ID, &r.PassengerID, &driverID, &r.Start.Lat, &r.Start.Lon, &r.End.Lat, &r.End.Lon,
		&r.RequestTime, &r.IsScheduled, &sched, &r.IsPooled, &path, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ride request: %w", err)
	}
	r.DriverID = driverID.String
	if sched.Valid {
		t := sched.Time
		r.ScheduledTime = &t
	}
	r.Status = models.Status(status)
	if r.ShortestPath, err = polyline.Decode(path); err != nil {
		return nil, fmt.Errorf("ride request %s shortest_path: %w", r.ID, err)
	}
	return &r, nil
}

func scanRide(s scanner) (*models.Ride, error) {
	var (
		r    models.Ride
		path string
	)
	err := s.Scan(&r.ID, &r.VehicleID, &r.Position.Lat, &r.Position.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.NumberOfPassengers, &r.AvailableSeats, &path, &r.Active, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ride: %w", err)
	}
	if r.ShortestPath, err = polyline.Decode(path); err != nil {
		return nil, fmt.Errorf("ride %s shortest_path: %w", r.ID, err)
	}
	return &r, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (p *PostgresStore) GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	return scanRideRequest(p.db.QueryRowContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE id = $1`, id))
}

func (p *PostgresStore) ListRideRequests(ctx context.Context, f Filter) ([]*models.RideRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Pooled != nil {
		args = append(args, *f.Pooled)
		where = append(where, fmt.Sprintf("is_pooled = $%d", len(args)))
	}
	if f.Scheduled != nil {
		args = append(args, *f.Scheduled)
		where = append(where, fmt.Sprintf("is_scheduled = $%d", len(args)))
	}
	q := `SELECT ` + requestCols + ` FROM ride_requests`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY request_time DESC, id`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ride requests: %w", err)
	}
	defer rows.Close()

	out := []*models.RideRequest{}
	for rows.Next() {
		r, err := scanRideRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) CreateRideRequest(ctx context.Context, r *models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_requests(`+requestCols+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.PassengerID, nullString(r.DriverID), r.Start.Lat, r.Start.Lon, r.End.Lat, r.End.Lon,
		r.RequestTime, r.IsScheduled, nullTime(r.ScheduledTime), r.IsPooled,
		polyline.Encode(r.ShortestPath), string(r.Status))
	if err != nil {
		return fmt.Errorf("insert ride request: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	return scanVehicle(p.db.QueryRowContext(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE id = $1`, id))
}

func (p *PostgresStore) GetVehicleByDriver(ctx context.Context, driverID string) (*models.Vehicle, error) {
	return scanVehicle(p.db.QueryRowContext(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE driver_id = $1`, driverID))
}

func scanVehicle(row *sql.Row) (*models.Vehicle, error) {
	var v models.Vehicle
	err := row.Scan(&v.ID, &v.DriverID, &v.Name, &v.Make, &v.Model, &v.Color, &v.LicensePlate, &v.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan vehicle: %w", err)
	}
	return &v, nil
}

func (p *PostgresStore) GetActiveRideByVehicle(ctx context.Context, vehicleID string) (*models.Ride, error) {
	return activeRide(ctx, p.db, vehicleID, false)
}

func activeRide(ctx context.Context, q querier, vehicleID string, lock bool) (*models.Ride, error) {
	query := `SELECT ` + rideCols + ` FROM rides WHERE vehicle_id = $1 AND active ORDER BY updated_at DESC LIMIT 1`
	if lock {
		query += ` FOR UPDATE`
	}
	return scanRide(q.QueryRowContext(ctx, query, vehicleID))
}

func (p *PostgresStore) SaveVehicle(ctx context.Context, v *models.Vehicle) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO vehicles(`+vehicleCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET driver_id=$2, name=$3, make=$4, model=$5, color=$6, license_plate=$7, capacity=$8`,
		v.ID, v.DriverID, v.Name, v.Make, v.Model, v.Color, v.LicensePlate, v.Capacity)
	if err != nil {
		return fmt.Errorf("save vehicle: %w", err)
	}
	return nil
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET vehicle_id=$2, position_lat=$3, position_lon=$4, destination_lat=$5,
		destination_lon=$6, number_of_passengers=$7, available_seats=$8, shortest_path=$9, active=$10, updated_at=$11`,
		r.ID, r.VehicleID, r.Position.Lat, r.Position.Lon, r.Destination.Lat, r.Destination.Lon,
		r.NumberOfPassengers, r.AvailableSeats, polyline.Encode(r.ShortestPath), r.Active, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save ride: %w", err)
	}
	return nil
}

func (p *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()
	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockRideRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	return scanRideRequest(t.tx.QueryRowContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) LockActiveRideByVehicle(ctx context.Context, vehicleID string) (*models.Ride, error) {
	return activeRide(ctx, t.tx, vehicleID, true)
}

func (t *pgTx) UpdateRideRequest(ctx context.Context, r *models.RideRequest) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE ride_requests SET driver_id=$1, status=$2 WHERE id=$3`,
		nullString(r.DriverID), string(r.Status), r.ID)
	return affectedOne(res, err, "update ride request")
}

func (t *pgTx) UpdateRide(ctx context.Context, r *models.Ride) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE rides SET destination_lat=$1, destination_lon=$2, number_of_passengers=$3,
		available_seats=$4, shortest_path=$5, active=$6, updated_at=$7 WHERE id=$8`,
		r.Destination.Lat, r.Destination.Lon, r.NumberOfPassengers, r.AvailableSeats,
		polyline.Encode(r.ShortestPath), r.Active, r.UpdatedAt, r.ID)
	return affectedOne(res, err, "update ride")
}

func affectedOne(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
