package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aditya/ridedispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type DriverRepository interface {
	Create(ctx context.Context, driver *models.Driver) error
	GetByID(ctx context.Context, id string) (*models.Driver, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Driver, error)
	UpdateStatus(ctx context.Context, id string, status string) error
	// Claim marks the driver busy unless it already is. It returns false when
	// another ride holds the driver.
	Claim(ctx context.Context, id string) (bool, error)
	// Release puts a busy driver back online.
	Release(ctx context.Context, id string) error
	UpdateLocation(ctx context.Context, id string, lat, lng float64) error
	UpdateRating(ctx context.Context, id string, rating float64, count int) error
	UpdateAcceptanceRate(ctx context.Context, id string, rate float64) error
	IncrementTotalRides(ctx context.Context, id string) error
	// ListAvailable returns online drivers with a known location.
	ListAvailable(ctx context.Context) ([]*models.Driver, error)
}

const driverColumns = `id, name, phone, vehicle_number, status, rating, rating_count, acceptance_rate,
	total_rides, current_lat, current_lng, created_at, updated_at`

type driverRepository struct {
	db *sqlx.DB
}

func NewDriverRepository(db *sqlx.DB) DriverRepository {
	return &driverRepository{db: db}
}

func (r *driverRepository) Create(ctx context.Context, driver *models.Driver) error {
	if driver.ID == "" {
		driver.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	driver.CreatedAt = now
	driver.UpdatedAt = now
	if driver.Status == "" {
		driver.Status = models.DriverStatusOffline
	}

	query := `
		INSERT INTO drivers (id, name, phone, vehicle_number, status, rating, rating_count,
			acceptance_rate, total_rides, current_lat, current_lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		driver.ID, driver.Name, driver.Phone, driver.VehicleNumber, driver.Status, driver.Rating,
		driver.RatingCount, driver.AcceptanceRate, driver.TotalRides, driver.CurrentLat, driver.CurrentLng,
		driver.CreatedAt, driver.UpdatedAt)
	return err
}

func (r *driverRepository) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	var driver models.Driver
	err := r.db.GetContext(ctx, &driver, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

func (r *driverRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Driver, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+driverColumns+` FROM drivers WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var drivers []*models.Driver
	err = r.db.SelectContext(ctx, &drivers, r.db.Rebind(query), args...)
	return drivers, err
}

func (r *driverRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	query := `UPDATE drivers SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	return err
}

func (r *driverRepository) Claim(ctx context.Context, id string) (bool, error) {
	query := `UPDATE drivers SET status = $1, updated_at = $2 WHERE id = $3 AND status <> $1`
	res, err := r.db.ExecContext(ctx, query, models.DriverStatusBusy, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *driverRepository) Release(ctx context.Context, id string) error {
	query := `UPDATE drivers SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	_, err := r.db.ExecContext(ctx, query, models.DriverStatusOnline, time.Now().UTC(), id, models.DriverStatusBusy)
	return err
}

func (r *driverRepository) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	query := `UPDATE drivers SET current_lat = $1, current_lng = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, lat, lng, time.Now().UTC(), id)
	return err
}

func (r *driverRepository) UpdateRating(ctx context.Context, id string, rating float64, count int) error {
	query := `UPDATE drivers SET rating = $1, rating_count = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, rating, count, time.Now().UTC(), id)
	return err
}

func (r *driverRepository) UpdateAcceptanceRate(ctx context.Context, id string, rate float64) error {
	query := `UPDATE drivers SET acceptance_rate = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, rate, time.Now().UTC(), id)
	return err
}

func (r *driverRepository) IncrementTotalRides(ctx context.Context, id string) error {
	query := `UPDATE drivers SET total_rides = total_rides + 1, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

func (r *driverRepository) ListAvailable(ctx context.Context) ([]*models.Driver, error) {
	var drivers []*models.Driver
	query := `
		SELECT ` + driverColumns + ` FROM drivers
		WHERE status = $1 AND current_lat IS NOT NULL AND current_lng IS NOT NULL
		ORDER BY id
	`
	err := r.db.SelectContext(ctx, &drivers, query, models.DriverStatusOnline)
	return drivers, err
}
