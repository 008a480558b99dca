package models

import "time"

// Outbound event types
const (
	EventRideAssigned   = "ride_assigned"
	EventDriverAccepted = "driver_accepted"
	EventDriverRejected = "driver_rejected"
	EventRideStarted    = "ride_started"
	EventRideLocation   = "ride_location"
	EventRideProgress   = "ride_progress"
	EventRideCompleted  = "ride_completed"
	EventRideCancelled  = "ride_cancelled"
	EventNewRideRequest = "new_ride_request"
)

// Event is addressed to a ride room, a driver room, or both.
type Event struct {
	Type      string      `json:"type"`
	RideID    string      `json:"ride_id,omitempty"`
	DriverID  string      `json:"driver_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEvent(eventType, rideID, driverID string, data interface{}) Event {
	return Event{
		Type:      eventType,
		RideID:    rideID,
		DriverID:  driverID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

type ProgressUpdate struct {
	RideID          string   `json:"ride_id"`
	RemainingKm     float64  `json:"remaining_km"`
	ETAMinutes      float64  `json:"eta_minutes"`
	ProgressPercent *float64 `json:"progress_percent,omitempty"`
}
