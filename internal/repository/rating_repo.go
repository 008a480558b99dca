package repository

import (
	"context"
	"time"

	"github.com/aditya/ridedispatch/internal/database"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/jmoiron/sqlx"
)

type RatingRepository interface {
	// Create returns false when the ride is already rated.
	Create(ctx context.Context, rating *models.Rating) (bool, error)
	// DriverAverage returns the mean score and number of ratings for a driver.
	DriverAverage(ctx context.Context, driverID string) (float64, int, error)
}

type ratingRepository struct {
	db *sqlx.DB
}

func NewRatingRepository(db *sqlx.DB) RatingRepository {
	return &ratingRepository{db: db}
}

func (r *ratingRepository) Create(ctx context.Context, rating *models.Rating) (bool, error) {
	rating.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ride_ratings (ride_id, driver_id, score, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rating.RideID, rating.DriverID, rating.Score, rating.Comment, rating.CreatedAt)
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ratingRepository) DriverAverage(ctx context.Context, driverID string) (float64, int, error) {
	var row struct {
		Avg   float64 `db:"avg"`
		Count int     `db:"count"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT COALESCE(AVG(score), 0) AS avg, COUNT(*) AS count FROM ride_ratings WHERE driver_id = $1`, driverID)
	return row.Avg, row.Count, err
}
