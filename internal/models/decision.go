package models

import "time"

type DecisionOutcome string

const (
	DecisionAccepted  DecisionOutcome = "accepted"
	DecisionRejected  DecisionOutcome = "rejected"
	DecisionCompleted DecisionOutcome = "completed"
	DecisionCancelled DecisionOutcome = "cancelled"
)

// Positive reports whether the outcome counts as an acceptance.
func (o DecisionOutcome) Positive() bool {
	return o == DecisionAccepted || o == DecisionCompleted
}

// RideDecision is one driver's final word on one ride, with the ride and driver
// attributes as they were when the decision was made. Accepted decisions are
// later upgraded to completed or cancelled.
type RideDecision struct {
	RideID               string          `db:"ride_id" json:"ride_id"`
	DriverID             string          `db:"driver_id" json:"driver_id"`
	Outcome              DecisionOutcome `db:"outcome" json:"outcome"`
	Fare                 float64         `db:"fare" json:"fare"`
	DistanceKm           float64         `db:"distance_km" json:"distance_km"`
	DriverRating         float64         `db:"driver_rating" json:"driver_rating"`
	DriverAcceptanceRate float64         `db:"driver_acceptance_rate" json:"driver_acceptance_rate"`
	DriverTotalRides     int             `db:"driver_total_rides" json:"driver_total_rides"`
	DecidedAt            time.Time       `db:"decided_at" json:"decided_at"`
}
