package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/ride-matching/internal/acceptance"
	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/dispatch"
	"github.com/example/ride-matching/internal/geo"
	"github.com/example/ride-matching/internal/matcher"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/observability"
	"github.com/example/ride-matching/internal/requests"
	"github.com/example/ride-matching/internal/storage"
)

// LocationPublisher forwards driver location updates to the stream the
// location consumer reads.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, d models.Driver) error
}

type Deps struct {
	Matcher    *matcher.Service
	Acceptance *acceptance.Coordinator
	Requests   *requests.Service
	Store      storage.Store
	Locator    geo.Locator
	Locations  LocationPublisher // optional
	WSReg      *dispatch.WSRegistry
	Logger     *zap.Logger
}

type Server struct {
	Deps
	logger   *zap.Logger
	validate *validator.Validate
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{Deps: d, logger: d.Logger, validate: newValidator(), mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

const (
	userIDHeader   = "X-User-ID"
	userNameHeader = "X-User-Name"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/internal/vehicles", s.handleSaveVehicle).Methods("POST")
	s.mux.HandleFunc("/internal/rides", s.handleSaveRide).Methods("POST")

	api := s.mux.PathPrefix("/api/v1/ride-requests").Subrouter()
	api.HandleFunc("", s.submit(matcher.Options{})).Methods("POST")
	api.HandleFunc("/scheduled", s.submit(matcher.Options{Scheduled: true})).Methods("POST")
	api.HandleFunc("/pooled", s.submit(matcher.Options{Pooled: true})).Methods("POST")
	api.HandleFunc("/pooled/scheduled", s.submit(matcher.Options{Pooled: true, Scheduled: true})).Methods("POST")

	api.HandleFunc("", s.handleList).Methods("GET")
	api.HandleFunc("/pooled", s.listView(requests.ViewPooled)).Methods("GET")
	api.HandleFunc("/scheduled", s.listView(requests.ViewScheduled)).Methods("GET")
	api.HandleFunc("/scheduled/pooled", s.listView(requests.ViewScheduledPooled)).Methods("GET")
	api.HandleFunc("/scheduled/accepted", s.listView(requests.ViewScheduledAccepted)).Methods("GET")
	api.HandleFunc("/{id}", s.handleGet).Methods("GET")

	api.HandleFunc("/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/{id}/accept-scheduled", s.handleAccept).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type submitResponse struct {
	*models.RideRequest
	DriversNotified int `json:"drivers_notified"`
}

// submit is one handler per submission variant; all four share Submit.
func (s *Server) submit(opts matcher.Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passengerID, err := userID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var p createRideRequestPayload
		if err := s.decode(r, &p); err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := s.Matcher.Submit(r.Context(), matcher.SubmitCommand{
			PassengerID:   passengerID,
			PassengerName: r.Header.Get(userNameHeader),
			Start:         models.Coord{Lat: *p.StartLatitude, Lon: *p.StartLongitude},
			End:           models.Coord{Lat: *p.EndLatitude, Lon: *p.EndLongitude},
			ScheduledTime: p.ScheduledTime,
			Options:       opts,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		notified := 0
		for _, d := range res.Deliveries {
			if d.Delivered() {
				notified++
			}
		}
		writeJSON(w, http.StatusCreated, submitResponse{RideRequest: res.Request, DriversNotified: notified})
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.Filter{Status: models.Status(q.Get("status"))}
	var err error
	if f.Pooled, err = boolParam(q.Get("pooled"), "pooled"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Scheduled, err = boolParam(q.Get("scheduled"), "scheduled"); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.list(w, r, f)
}

func (s *Server) listView(v requests.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := v.Filter()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if st := r.URL.Query().Get("status"); st != "" {
			f.Status = models.Status(st)
		}
		s.list(w, r, f)
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, f storage.Filter) {
	out, err := s.Requests.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rr, err := s.Requests.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rr)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	passengerID, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rr, err := s.Requests.Cancel(r.Context(), mux.Vars(r)["id"], passengerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rr)
}

type acceptResponse struct {
	RideRequest *models.RideRequest `json:"ride_request"`
	Ride        *models.Ride        `json:"ride"`
	Vehicle     string              `json:"vehicle"`
	ETASeconds  int64               `json:"eta_seconds"`
	Fare        models.Money        `json:"fare"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	driverID, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Acceptance.Accept(r.Context(), acceptance.AcceptCommand{RideRequestID: mux.Vars(r)["id"], DriverID: driverID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{
		RideRequest: res.Request,
		Ride:        res.Ride,
		Vehicle:     res.Vehicle.Descriptor(),
		ETASeconds:  int64(res.ETA / time.Second),
		Fare:        res.Fare,
	})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var p driverLocationPayload
	if err := s.decode(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	d := models.Driver{ID: p.ID, Loc: models.Coord{Lat: *p.Lat, Lon: *p.Lon}, Rating: p.Rating, Online: true, Updated: time.Now().UTC()}
	if p.Online != nil {
		d.Online = *p.Online
	}
	// the stream is best-effort; the local index is authoritative for this process
	if s.Locations != nil {
		if err := s.Locations.PublishLocation(r.Context(), d); err != nil {
			s.loggerFor(r.Context()).Warn("location publish failed", zap.String("driver_id", d.ID), zap.Error(err))
		}
	}
	if s.Locator != nil {
		err := s.Locator.Upsert(r.Context(), d)
		observability.DriverLocationUpdates.WithLabelValues("http", observability.Outcome(err)).Inc()
		if err != nil {
			s.writeError(w, r, apperr.Unavailable("driver_locator", err))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveVehicle(w http.ResponseWriter, r *http.Request) {
	var p vehiclePayload
	if err := s.decode(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	v := &models.Vehicle{ID: p.ID, DriverID: p.DriverID, Name: p.Name, Make: p.Make, Model: p.Model,
		Color: p.Color, LicensePlate: p.LicensePlate, Capacity: p.Capacity}
	if v.ID == "" {
		v.ID = newID()
	}
	if err := s.Store.SaveVehicle(r.Context(), v); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleSaveRide(w http.ResponseWriter, r *http.Request) {
	var p ridePayload
	if err := s.decode(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	// seat counts must account for the whole vehicle
	v, err := s.Store.GetVehicle(r.Context(), p.VehicleID)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, r, apperr.Wrap(apperr.ErrVehicleNotFound, err))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.NumberOfPassengers+p.AvailableSeats != v.Capacity {
		s.writeError(w, r, apperr.Validation("number_of_passengers + available_seats must equal vehicle capacity %d", v.Capacity))
		return
	}
	ride := &models.Ride{
		ID:                 p.ID,
		VehicleID:          p.VehicleID,
		Position:           models.Coord{Lat: *p.Lat, Lon: *p.Lon},
		Destination:        models.Coord{Lat: *p.DestinationLat, Lon: *p.DestinationLon},
		NumberOfPassengers: p.NumberOfPassengers,
		AvailableSeats:     p.AvailableSeats,
		Active:             true,
		UpdatedAt:          time.Now().UTC(),
	}
	if ride.ID == "" {
		ride.ID = newID()
	}
	if err := s.Store.SaveRide(r.Context(), ride); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

var upgrader = websocket.Upgrader{}

// handleWS keeps the session registered until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.String("user_id", id), zap.Error(err))
		return
	}
	s.WSReg.Add(id, conn)
	defer func() {
		s.WSReg.Remove(id, conn)
		conn.Close()
	}()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func userID(r *http.Request) (string, error) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		return "", apperr.Validation("%s header is required", userIDHeader)
	}
	return id, nil
}

func boolParam(v, name string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, apperr.Validation("%s must be true or false", name)
	}
	return &b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps classified errors to their status. Anything unclassified
// is a 500 with a generic message; the cause is only logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := http.StatusInternalServerError, errorResponse{Error: "internal error", Code: apperr.KindInternal.String()}
	if e, ok := apperr.As(err); ok {
		status = e.HTTPStatus()
		resp = errorResponse{Error: e.Message, Code: e.Code}
		if resp.Code == "" {
			resp.Code = e.Kind.String()
		}
		if status == http.StatusInternalServerError {
			resp.Error = "internal error"
		}
	}
	if status >= 500 {
		s.loggerFor(r.Context()).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
