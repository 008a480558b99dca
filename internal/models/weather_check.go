package models

import "time"

// WeatherCheck is one append-only weather log entry for a ride.
type WeatherCheck struct {
	RideID        string    `db:"ride_id" json:"ride_id"`
	CheckedAt     time.Time `db:"checked_at" json:"checked_at"`
	Stage         string    `db:"stage" json:"stage"`
	Condition     *string   `db:"condition" json:"condition,omitempty"`
	Temperature   *float64  `db:"temperature" json:"temperature,omitempty"`
	WindSpeed     *float64  `db:"wind_speed" json:"wind_speed,omitempty"`
	Visibility    *float64  `db:"visibility" json:"visibility,omitempty"`
	Humidity      *float64  `db:"humidity" json:"humidity,omitempty"`
	Precipitation *float64  `db:"precipitation" json:"precipitation,omitempty"`
	Severity      string    `db:"severity" json:"severity"`
	IsSafe        bool      `db:"is_safe" json:"is_safe"`
	Available     bool      `db:"available" json:"available"`
}
