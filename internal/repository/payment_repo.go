package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aditya/ridedispatch/internal/models"
	"github.com/jmoiron/sqlx"
)

// PaymentRepository reads payments. Payments are written only through
// RideRepository.CompleteWithPayment.
type PaymentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByRideID(ctx context.Context, rideID string) (*models.Payment, error)
	CountByRideID(ctx context.Context, rideID string) (int, error)
}

const paymentColumns = `id, ride_id, rider_id, driver_id, amount, currency, method, status,
	psp_transaction_id, psp_response, created_at`

type paymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetByRideID(ctx context.Context, rideID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE ride_id = $1`, rideID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) CountByRideID(ctx context.Context, rideID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM payments WHERE ride_id = $1`, rideID)
	return n, err
}
