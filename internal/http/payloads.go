package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/ride-matching/internal/apperr"
)

const maxBodyBytes = 1 << 20

type createRideRequestPayload struct {
	StartLatitude  *float64   `json:"start_latitude" validate:"required,latitude"`
	StartLongitude *float64   `json:"start_longitude" validate:"required,longitude"`
	EndLatitude    *float64   `json:"end_latitude" validate:"required,latitude"`
	EndLongitude   *float64   `json:"end_longitude" validate:"required,longitude"`
	ScheduledTime  *time.Time `json:"scheduled_time"`
}

type driverLocationPayload struct {
	ID     string   `json:"id" validate:"required"`
	Lat    *float64 `json:"lat" validate:"required,latitude"`
	Lon    *float64 `json:"lon" validate:"required,longitude"`
	Rating float64  `json:"rating" validate:"gte=0,lte=5"`
	Online *bool    `json:"online"`
}

type vehiclePayload struct {
	ID           string `json:"id"`
	DriverID     string `json:"driver_id" validate:"required"`
	Name         string `json:"name"`
	Make         string `json:"make" validate:"required"`
	Model        string `json:"model" validate:"required"`
	Color        string `json:"color" validate:"required"`
	LicensePlate string `json:"license_plate" validate:"required"`
	Capacity     int    `json:"capacity" validate:"gte=1"`
}

type ridePayload struct {
	ID                 string   `json:"id"`
	VehicleID          string   `json:"vehicle_id" validate:"required"`
	Lat                *float64 `json:"lat" validate:"required,latitude"`
	Lon                *float64 `json:"lon" validate:"required,longitude"`
	DestinationLat     *float64 `json:"destination_lat" validate:"required,latitude"`
	DestinationLon     *float64 `json:"destination_lon" validate:"required,longitude"`
	NumberOfPassengers int      `json:"number_of_passengers" validate:"gte=0"`
	AvailableSeats     int      `json:"available_seats" validate:"gte=0"`
}

// decode reads a JSON body into v and runs its validate tags.
func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return validationError(verrs)
		}
		return apperr.Validation("%v", err)
	}
	return nil
}

func validationError(verrs validator.ValidationErrors) *apperr.Error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "latitude":
		return field + " must be between -90 and 90"
	case "longitude":
		return field + " must be between -180 and 180"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
