package models

import (
	"time"
)

type RideStatus string

// Ride status constants
const (
	RideStatusPending    RideStatus = "pending"
	RideStatusAssigned   RideStatus = "assigned"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusInProgress RideStatus = "in_progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"
	RideStatusRejected   RideStatus = "rejected"
)

// Valid ride state transitions. pending -> pending and assigned -> pending are
// the re-dispatch edges used by the requeue reject policy.
var ValidRideTransitions = map[RideStatus][]RideStatus{
	RideStatusPending:    {RideStatusAssigned, RideStatusAccepted, RideStatusRejected, RideStatusPending},
	RideStatusAssigned:   {RideStatusAccepted, RideStatusRejected, RideStatusPending, RideStatusCancelled},
	RideStatusAccepted:   {RideStatusInProgress, RideStatusCancelled},
	RideStatusInProgress: {RideStatusCompleted, RideStatusCancelled},
	RideStatusCompleted:  {},
	RideStatusCancelled:  {},
	RideStatusRejected:   {},
}

// Payment methods
const (
	PaymentMethodCash   = "cash"
	PaymentMethodWallet = "wallet"
	PaymentMethodCard   = "card"
)

// CanTransitionTo checks if a ride in status s can move to next
func (s RideStatus) CanTransitionTo(next RideStatus) bool {
	for _, state := range ValidRideTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}

func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled || s == RideStatusRejected
}

// HoldsDriver reports whether a ride in this status carries a driver id.
func (s RideStatus) HoldsDriver() bool {
	switch s {
	case RideStatusAssigned, RideStatusAccepted, RideStatusInProgress, RideStatusCompleted:
		return true
	}
	return false
}

type Location struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// RouteSummary is what a route provider returns for origin -> destination.
type RouteSummary struct {
	DistanceKm  float64    `json:"distance_km"`
	DurationMin float64    `json:"duration_min"`
	Path        []Location `json:"path,omitempty"`
}

type Ride struct {
	ID              string     `db:"id" json:"id"`
	RiderID         string     `db:"rider_id" json:"rider_id"`
	DriverID        *string    `db:"driver_id" json:"driver_id,omitempty"`
	PickupLat       float64    `db:"pickup_lat" json:"pickup_lat"`
	PickupLng       float64    `db:"pickup_lng" json:"pickup_lng"`
	DropoffLat      float64    `db:"dropoff_lat" json:"dropoff_lat"`
	DropoffLng      float64    `db:"dropoff_lng" json:"dropoff_lng"`
	CurrentLat      *float64   `db:"current_lat" json:"current_lat,omitempty"`
	CurrentLng      *float64   `db:"current_lng" json:"current_lng,omitempty"`
	Status          RideStatus `db:"status" json:"status"`
	MinFare         float64    `db:"min_fare" json:"min_fare"`
	MaxFare         float64    `db:"max_fare" json:"max_fare"`
	Fare            float64    `db:"fare" json:"fare"`
	DistanceKm      *float64   `db:"distance_km" json:"distance_km,omitempty"`
	DurationMin     *float64   `db:"duration_min" json:"duration_min,omitempty"`
	RoutePolyline   *string    `db:"route_polyline" json:"route_polyline,omitempty"`
	PaymentMethod   string     `db:"payment_method" json:"payment_method"`
	PositionAt      *time.Time `db:"position_at" json:"position_at,omitempty"`
	LastRouteUpdate *time.Time `db:"last_route_update" json:"last_route_update,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Pickup and Dropoff are the ride's endpoints.
func (r *Ride) Pickup() Location  { return Location{Lat: r.PickupLat, Lng: r.PickupLng} }
func (r *Ride) Dropoff() Location { return Location{Lat: r.DropoffLat, Lng: r.DropoffLng} }

// HeldBy reports whether driverID is the ride's current driver.
func (r *Ride) HeldBy(driverID string) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

// IsActive returns true if the ride is not in a terminal state
func (r *Ride) IsActive() bool {
	return !r.Status.IsTerminal()
}

// Endpoints is the read view the tracking hub needs.
type Endpoints struct {
	RideID     string     `json:"ride_id"`
	Status     RideStatus `json:"status"`
	DriverID   *string    `json:"driver_id,omitempty"`
	Pickup     Location   `json:"pickup"`
	Dropoff    Location   `json:"dropoff"`
	DistanceKm *float64   `json:"distance_km,omitempty"`
	Current    *Location  `json:"current,omitempty"`
	PositionAt *time.Time `json:"position_at,omitempty"`
}

func (r *Ride) Endpoints() *Endpoints {
	e := &Endpoints{
		RideID:     r.ID,
		Status:     r.Status,
		DriverID:   r.DriverID,
		Pickup:     r.Pickup(),
		Dropoff:    r.Dropoff(),
		DistanceKm: r.DistanceKm,
		PositionAt: r.PositionAt,
	}
	if r.CurrentLat != nil && r.CurrentLng != nil {
		e.Current = &Location{Lat: *r.CurrentLat, Lng: *r.CurrentLng}
	}
	return e
}

type FareEstimateRequest struct {
	Pickup  Location `json:"pickup" validate:"required"`
	Dropoff Location `json:"dropoff" validate:"required"`
}

type FareEstimate struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
	Fare        float64 `json:"fare"`
}

type CreateRideRequest struct {
	Pickup        Location `json:"pickup" validate:"required"`
	Dropoff       Location `json:"dropoff" validate:"required"`
	MinFare       float64  `json:"min_fare" validate:"gte=0"`
	MaxFare       float64  `json:"max_fare" validate:"gtefield=MinFare"`
	PaymentMethod string   `json:"payment_method" validate:"required,oneof=cash wallet card"`
	// EstimatedFare and Route are optional; they are computed when absent.
	EstimatedFare *float64      `json:"estimated_fare,omitempty" validate:"omitempty,gte=0"`
	Route         *RouteSummary `json:"route,omitempty"`
}

type DriverActionRequest struct {
	DriverID string `json:"driver_id" validate:"required"`
}

type CompleteRideRequest struct {
	DriverID      string `json:"driver_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=cash wallet card"`
}

type CompleteRideResult struct {
	Ride      *Ride   `json:"ride"`
	PaymentID string  `json:"payment_id"`
	Fare      float64 `json:"fare"`
}

type PositionReport struct {
	DriverID string     `json:"driver_id"`
	RideID   string     `json:"ride_id"`
	Lat      *float64   `json:"lat"`
	Lng      *float64   `json:"lng"`
	SentAt   *time.Time `json:"sent_at,omitempty"`
}

type Position struct {
	RideID    string    `json:"ride_id"`
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}
