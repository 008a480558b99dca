package repository

import (
	"context"

	"github.com/aditya/ridedispatch/internal/models"
	"github.com/jmoiron/sqlx"
)

// WeatherLogRepository is append-only.
type WeatherLogRepository interface {
	Append(ctx context.Context, check *models.WeatherCheck) error
	ListByRide(ctx context.Context, rideID string) ([]*models.WeatherCheck, error)
}

type weatherLogRepository struct {
	db *sqlx.DB
}

func NewWeatherLogRepository(db *sqlx.DB) WeatherLogRepository {
	return &weatherLogRepository{db: db}
}

func (r *weatherLogRepository) Append(ctx context.Context, check *models.WeatherCheck) error {
	query := `
		INSERT INTO weather_checks (ride_id, checked_at, stage, condition, temperature, wind_speed,
			visibility, humidity, precipitation, severity, is_safe, available)
		VALUES (:ride_id, :checked_at, :stage, :condition, :temperature, :wind_speed,
			:visibility, :humidity, :precipitation, :severity, :is_safe, :available)
		ON CONFLICT (ride_id, checked_at) DO NOTHING
	`
	_, err := r.db.NamedExecContext(ctx, query, check)
	return err
}

func (r *weatherLogRepository) ListByRide(ctx context.Context, rideID string) ([]*models.WeatherCheck, error) {
	var checks []*models.WeatherCheck
	err := r.db.SelectContext(ctx, &checks, `
		SELECT ride_id, checked_at, stage, condition, temperature, wind_speed, visibility,
			humidity, precipitation, severity, is_safe, available
		FROM weather_checks WHERE ride_id = $1 ORDER BY checked_at`, rideID)
	return checks, err
}
