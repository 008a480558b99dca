package models

import (
	"time"
)

// Driver status constants
const (
	DriverStatusOffline = "offline"
	DriverStatusOnline  = "online"
	DriverStatusBusy    = "busy"
)

const (
	DefaultAcceptanceRate = 0.5
	fallbackRating        = 3.0
	MaxRating             = 5.0
)

type Driver struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Phone          string    `db:"phone" json:"phone"`
	VehicleNumber  string    `db:"vehicle_number" json:"vehicle_number"`
	Status         string    `db:"status" json:"status"`
	Rating         float64   `db:"rating" json:"rating"`
	RatingCount    int       `db:"rating_count" json:"rating_count"`
	AcceptanceRate *float64  `db:"acceptance_rate" json:"acceptance_rate,omitempty"`
	TotalRides     int       `db:"total_rides" json:"total_rides"`
	CurrentLat     *float64  `db:"current_lat" json:"current_lat,omitempty"`
	CurrentLng     *float64  `db:"current_lng" json:"current_lng,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// EffectiveRating is the rating used for scoring; unrated drivers count as 3.0.
func (d *Driver) EffectiveRating() float64 {
	if d.Rating <= 0 {
		return fallbackRating
	}
	return d.Rating
}

// EffectiveAcceptanceRate falls back to 0.5 for drivers without history.
func (d *Driver) EffectiveAcceptanceRate() float64 {
	if d.AcceptanceRate == nil {
		return DefaultAcceptanceRate
	}
	return *d.AcceptanceRate
}

func (d *Driver) HasLocation() bool {
	return d.CurrentLat != nil && d.CurrentLng != nil
}

type CreateDriverRequest struct {
	Name          string  `json:"name" validate:"required,min=2,max=100"`
	Phone         string  `json:"phone" validate:"required,min=10,max=15"`
	VehicleNumber string  `json:"vehicle_number" validate:"required"`
	Rating        float64 `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
}

type UpdateDriverLocationRequest struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

func IsValidDriverStatus(status string) bool {
	return status == DriverStatusOffline || status == DriverStatusOnline || status == DriverStatusBusy
}
