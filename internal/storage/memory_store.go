package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-matching/internal/models"
)

// MemoryStore keeps everything in maps. Transactions are serialized, which
// is the strongest form of row locking; their writes are staged and only
// become visible on commit.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.RideRequest
	rides    map[string]*models.Ride
	vehicles map[string]*models.Vehicle

	txSem chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.RideRequest),
		rides:    make(map[string]*models.Ride),
		vehicles: make(map[string]*models.Vehicle),
		txSem:    make(chan struct{}, 1),
	}
}

func (m *MemoryStore) GetRideRequest(_ context.Context, id string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListRideRequests(_ context.Context, f Filter) ([]*models.RideRequest, error) {
	m.mu.RLock()
	out := make([]*models.RideRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if f.Match(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestTime.Equal(out[j].RequestTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestTime.After(out[j].RequestTime)
	})
	return out, nil
}

func (m *MemoryStore) CreateRideRequest(_ context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetVehicle(_ context.Context, id string) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) GetVehicleByDriver(_ context.Context, driverID string) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vehicles {
		if v.DriverID == driverID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetActiveRideByVehicle(_ context.Context, vehicleID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeRide(vehicleID)
}

func (m *MemoryStore) activeRide(vehicleID string) (*models.Ride, error) {
	for _, r := range m.rides {
		if r.VehicleID == vehicleID && r.Active {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SaveVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vehicles[v.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	select {
	case m.txSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.txSem }()

	tx := &memTx{
		store:    m,
		requests: make(map[string]*models.RideRequest),
		rides:    make(map[string]*models.Ride),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	for id, r := range tx.requests {
		m.requests[id] = r
	}
	for id, r := range tx.rides {
		m.rides[id] = r
	}
	m.mu.Unlock()
	return nil
}

type memTx struct {
	store    *MemoryStore
	requests map[string]*models.RideRequest
	rides    map[string]*models.Ride
}

func (t *memTx) LockRideRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	if r, ok := t.requests[id]; ok {
		return r.Clone(), nil
	}
	return t.store.GetRideRequest(ctx, id)
}

func (t *memTx) LockActiveRideByVehicle(_ context.Context, vehicleID string) (*models.Ride, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	// staged rides always shadow a committed row with the same id
	for id, r := range t.store.rides {
		if staged, ok := t.rides[id]; ok {
			r = staged
		}
		if r.VehicleID == vehicleID && r.Active {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateRideRequest(_ context.Context, r *models.RideRequest) error {
	if _, ok := t.requests[r.ID]; !ok {
		t.store.mu.RLock()
		_, ok = t.store.requests[r.ID]
		t.store.mu.RUnlock()
		if !ok {
			return ErrNotFound
		}
	}
	t.requests[r.ID] = r.Clone()
	return nil
}

func (t *memTx) UpdateRide(_ context.Context, r *models.Ride) error {
	if _, ok := t.rides[r.ID]; !ok {
		t.store.mu.RLock()
		_, ok = t.store.rides[r.ID]
		t.store.mu.RUnlock()
		if !ok {
			return ErrNotFound
		}
	}
	t.rides[r.ID] = r.Clone()
	return nil
}
