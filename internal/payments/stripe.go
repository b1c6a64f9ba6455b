package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-matching/internal/models"
)

// StripeClient places a manual-capture hold for the quoted fare when a ride
// request is accepted. Capture and release happen outside this service.
type StripeClient struct{}

// NewStripeClient sets the global stripe key. An empty key disables the
// client and callers skip it when Enabled reports false.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

func (s *StripeClient) Enabled() bool { return stripe.Key != "" }

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, rideRequestID, customerID string, fare models.Money) (string, error) {
	params := holdParams(rideRequestID, customerID, fare)
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func holdParams(rideRequestID, customerID string, fare models.Money) *stripe.PaymentIntentParams {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(fare.Amount),
		Currency:      stripe.String(fare.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.AddMetadata("ride_request_id", rideRequestID)
	params.SetIdempotencyKey("hold-" + rideRequestID)
	return params
}
