package models

import (
	"fmt"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coord) String() string { return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon) }

// Path is an ordered sequence of points, first point is the route origin.
type Path []Coord

func (p Path) First() (Coord, bool) {
	if len(p) == 0 {
		return Coord{}, false
	}
	return p[0], true
}

func (p Path) Last() (Coord, bool) {
	if len(p) == 0 {
		return Coord{}, false
	}
	return p[len(p)-1], true
}

func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Driver is a location update for an online driver.
type Driver struct {
	ID      string    `json:"id"`
	Loc     Coord     `json:"loc"`
	Rating  float64   `json:"rating"` // 0..5
	Online  bool      `json:"online"`
	Updated time.Time `json:"updated"`
}

type RideRequest struct {
	ID            string     `json:"id"`
	PassengerID   string     `json:"passenger_id"`
	DriverID      string     `json:"driver_id,omitempty"` // empty until accepted
	Start         Coord      `json:"start_location"`
	End           Coord      `json:"end_location"`
	RequestTime   time.Time  `json:"request_time"`
	IsScheduled   bool       `json:"is_scheduled"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	IsPooled      bool       `json:"is_pooled"`
	ShortestPath  Path       `json:"shortest_path"`
	Status        Status     `json:"status"`
}

func (r *RideRequest) Clone() *RideRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ShortestPath = r.ShortestPath.Clone()
	if r.ScheduledTime != nil {
		t := *r.ScheduledTime
		cp.ScheduledTime = &t
	}
	return &cp
}

// Ride is an in-progress vehicle trip. NumberOfPassengers + AvailableSeats
// always equals the vehicle capacity.
type Ride struct {
	ID                 string    `json:"id"`
	VehicleID          string    `json:"vehicle_id"`
	Position           Coord     `json:"position"`
	Destination        Coord     `json:"destination"`
	NumberOfPassengers int       `json:"number_of_passengers"`
	AvailableSeats     int       `json:"available_seats"`
	ShortestPath       Path      `json:"shortest_path"`
	Active             bool      `json:"active"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ShortestPath = r.ShortestPath.Clone()
	return &cp
}

func (r *Ride) Capacity() int { return r.NumberOfPassengers + r.AvailableSeats }

// Board reserves one seat for req and merges its trip into the ride.
func (r *Ride) Board(req *RideRequest) error {
	if r.AvailableSeats < 1 {
		return ErrNoSeats
	}
	r.NumberOfPassengers++
	r.AvailableSeats--
	r.Destination = req.End
	r.ShortestPath = req.ShortestPath.Clone()
	return nil
}

type Vehicle struct {
	ID           string `json:"id"`
	DriverID     string `json:"driver_id"`
	Name         string `json:"name,omitempty"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Color        string `json:"color"`
	LicensePlate string `json:"license_plate"`
	Capacity     int    `json:"capacity"`
}

// Descriptor renders the vehicle the way it is shown to passengers.
func (v *Vehicle) Descriptor() string {
	car := fmt.Sprintf("%s %s", v.Make, v.Model)
	if v.Name != "" {
		car = v.Name + ", " + car
	}
	return fmt.Sprintf("A %s color %s with license plate %s", car, v.Color, v.LicensePlate)
}

// Money is an amount in the currency's minor unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, m.Currency)
}
