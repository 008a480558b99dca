package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"
)

// Receipt is what a processor hands back for a settled charge.
type Receipt struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// StripeClient charges cards through PaymentIntents: hold, then capture.
type StripeClient struct{}

// NewStripeClient sets the process-wide stripe key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	return paymentintent.Capture(paymentIntentID, params)
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}

// Charge holds and immediately captures amount (in major units). A failed
// capture releases the hold.
func (s *StripeClient) Charge(ctx context.Context, amount float64, currency string) (*Receipt, error) {
	id, err := s.Hold(ctx, MinorUnits(amount), currency)
	if err != nil {
		return nil, fmt.Errorf("stripe hold: %w", err)
	}
	pi, err := s.Capture(ctx, id)
	if err != nil {
		if cerr := s.Cancel(ctx, id); cerr != nil {
			return nil, fmt.Errorf("stripe capture: %w (cancel hold: %v)", err, cerr)
		}
		return nil, fmt.Errorf("stripe capture: %w", err)
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"payment_intent": pi.ID,
		"status":         pi.Status,
		"amount":         pi.AmountReceived,
	})
	return &Receipt{
		TransactionID: pi.ID,
		Status:        "success",
		Message:       "Card payment captured",
		Raw:           raw,
	}, nil
}

// Refund returns a captured charge in full.
func (s *StripeClient) Refund(ctx context.Context, receipt *Receipt) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(receipt.TransactionID)}
	params.Context = ctx
	_, err := refund.New(params)
	return err
}

// MinorUnits converts a fare to the smallest currency unit.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
