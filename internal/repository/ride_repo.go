package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aditya/ridedispatch/internal/database"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Transition is a compare-and-swap on a ride's status and driver. It applies
// only while the ride is still in From with driver ExpectDriver (nil = none).
type Transition struct {
	RideID       string
	From         models.RideStatus
	ExpectDriver *string
	To           models.RideStatus
	Driver       *string
}

type RideRepository interface {
	Create(ctx context.Context, ride *models.Ride) error
	GetByID(ctx context.Context, id string) (*models.Ride, error)
	TransitionStatus(ctx context.Context, t Transition) (bool, error)
	UpdatePosition(ctx context.Context, rideID, driverID string, lat, lng float64, at time.Time) (bool, error)
	UpdateRoute(ctx context.Context, rideID string, route models.RouteSummary, polyline *string) error
	CompleteWithPayment(ctx context.Context, rideID, driverID string, payment *models.Payment) (bool, error)
	GetActiveRideByDriverID(ctx context.Context, driverID string) (*models.Ride, error)
}

const rideColumns = `id, rider_id, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	current_lat, current_lng, status, min_fare, max_fare, fare, distance_km, duration_min,
	route_polyline, payment_method, position_at, last_route_update, created_at, updated_at`

var activeStatuses = []string{
	string(models.RideStatusAssigned),
	string(models.RideStatusAccepted),
	string(models.RideStatusInProgress),
}

type rideRepository struct {
	db *sqlx.DB
}

func NewRideRepository(db *sqlx.DB) RideRepository {
	return &rideRepository{db: db}
}

func (r *rideRepository) Create(ctx context.Context, ride *models.Ride) error {
	if ride.ID == "" {
		ride.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ride.CreatedAt = now
	ride.UpdatedAt = now
	ride.Status = models.RideStatusPending
	ride.DriverID = nil

	query := `
		INSERT INTO rides (id, rider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			status, min_fare, max_fare, fare, distance_km, duration_min, route_polyline,
			payment_method, last_route_update, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.ExecContext(ctx, query,
		ride.ID, ride.RiderID, ride.PickupLat, ride.PickupLng, ride.DropoffLat, ride.DropoffLng,
		string(ride.Status), ride.MinFare, ride.MaxFare, ride.Fare, ride.DistanceKm, ride.DurationMin,
		ride.RoutePolyline, ride.PaymentMethod, ride.LastRouteUpdate, ride.CreatedAt, ride.UpdatedAt)
	return err
}

func (r *rideRepository) GetByID(ctx context.Context, id string) (*models.Ride, error) {
	var ride models.Ride
	err := r.db.GetContext(ctx, &ride, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func (r *rideRepository) TransitionStatus(ctx context.Context, t Transition) (bool, error) {
	query := `
		UPDATE rides
		SET status = $1, driver_id = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND driver_id IS NOT DISTINCT FROM $6
	`
	res, err := r.db.ExecContext(ctx, query,
		string(t.To), t.Driver, time.Now().UTC(), t.RideID, string(t.From), t.ExpectDriver)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *rideRepository) UpdatePosition(ctx context.Context, rideID, driverID string, lat, lng float64, at time.Time) (bool, error) {
	query := `
		UPDATE rides
		SET current_lat = $1, current_lng = $2, position_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5 AND driver_id = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		lat, lng, at, rideID, string(models.RideStatusInProgress), driverID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *rideRepository) UpdateRoute(ctx context.Context, rideID string, route models.RouteSummary, polyline *string) error {
	now := time.Now().UTC()
	query := `
		UPDATE rides
		SET distance_km = $1, duration_min = $2, route_polyline = $3, last_route_update = $4, updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, route.DistanceKm, route.DurationMin, polyline, now, rideID)
	return err
}

// CompleteWithPayment flips an in_progress ride held by driverID to completed
// and stores its payment in one transaction. It returns false when the ride
// no longer qualifies or already has a payment.
func (r *rideRepository) CompleteWithPayment(ctx context.Context, rideID, driverID string, payment *models.Payment) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var ride models.Ride
	err = tx.GetContext(ctx, &ride, `SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, rideID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ride.Status != models.RideStatusInProgress || !ride.HeldBy(driverID) {
		return false, nil
	}

	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	payment.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, ride_id, rider_id, driver_id, amount, currency, method, status,
			psp_transaction_id, psp_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		payment.ID, rideID, payment.RiderID, payment.DriverID, payment.Amount, payment.Currency,
		payment.Method, payment.Status, payment.PSPTransactionID, jsonOrEmpty(payment.PSPResponse), payment.CreatedAt)
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE rides SET status = $1, updated_at = $2 WHERE id = $3`,
		string(models.RideStatusCompleted), payment.CreatedAt, rideID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *rideRepository) GetActiveRideByDriverID(ctx context.Context, driverID string) (*models.Ride, error) {
	query, args, err := sqlx.In(`
		SELECT `+rideColumns+` FROM rides
		WHERE driver_id = ? AND status IN (?)
		ORDER BY created_at DESC
		LIMIT 1`, driverID, activeStatuses)
	if err != nil {
		return nil, err
	}

	var ride models.Ride
	err = r.db.GetContext(ctx, &ride, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func jsonOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}
