package repository

import "github.com/jmoiron/sqlx"

// Store bundles the repositories the services need.
type Store struct {
	Rides      RideRepository
	Drivers    DriverRepository
	Payments   PaymentRepository
	Decisions  DecisionRepository
	Ratings    RatingRepository
	WeatherLog WeatherLogRepository
}

func NewPostgresStore(db *sqlx.DB) *Store {
	return &Store{
		Rides:      NewRideRepository(db),
		Drivers:    NewDriverRepository(db),
		Payments:   NewPaymentRepository(db),
		Decisions:  NewDecisionRepository(db),
		Ratings:    NewRatingRepository(db),
		WeatherLog: NewWeatherLogRepository(db),
	}
}

// NewMemoryStore returns repositories backed by one in-process MemoryDB.
func NewMemoryStore() *Store {
	m := NewMemoryDB()
	return &Store{
		Rides:      m.Rides(),
		Drivers:    m.Drivers(),
		Payments:   m.Payments(),
		Decisions:  m.Decisions(),
		Ratings:    m.Ratings(),
		WeatherLog: m.WeatherLog(),
	}
}
