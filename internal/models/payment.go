package models

import (
	"encoding/json"
	"time"
)

// Payment status constants
const (
	PaymentStatusCompleted = "completed"
	PaymentStatusRefunded  = "refunded"
)

// Payment is created exactly once per completed ride.
type Payment struct {
	ID               string          `db:"id" json:"id"`
	RideID           string          `db:"ride_id" json:"ride_id"`
	RiderID          string          `db:"rider_id" json:"rider_id"`
	DriverID         string          `db:"driver_id" json:"driver_id"`
	Amount           float64         `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	Method           string          `db:"method" json:"method"`
	Status           string          `db:"status" json:"status"`
	PSPTransactionID *string         `db:"psp_transaction_id" json:"psp_transaction_id,omitempty"`
	PSPResponse      json.RawMessage `db:"psp_response" json:"psp_response,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Rating is rider feedback on a completed ride; one per ride.
type Rating struct {
	RideID    string    `db:"ride_id" json:"ride_id"`
	DriverID  string    `db:"driver_id" json:"driver_id"`
	Score     float64   `db:"score" json:"score"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type RateRideRequest struct {
	Score   float64 `json:"score" validate:"gte=1,lte=5"`
	Comment string  `json:"comment,omitempty" validate:"max=100"`
}
