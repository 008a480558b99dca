package repository

import (
	"context"
	"time"

	"github.com/aditya/ridedispatch/internal/models"
	"github.com/jmoiron/sqlx"
)

// AcceptanceStats is a driver's decision history reduced to counts.
type AcceptanceStats struct {
	Positive int `db:"positive"`
	Total    int `db:"total"`
}

// Rate is positive/total, or false when the driver has no history.
func (s AcceptanceStats) Rate() (float64, bool) {
	if s.Total == 0 {
		return 0, false
	}
	return float64(s.Positive) / float64(s.Total), true
}

// DecisionRepository keeps one row per (ride, driver). A later decision by the
// same driver on the same ride overwrites the earlier one.
type DecisionRepository interface {
	Upsert(ctx context.Context, d *models.RideDecision) error
	ListAll(ctx context.Context) ([]*models.RideDecision, error)
	ListByDriver(ctx context.Context, driverID string) ([]*models.RideDecision, error)
	AcceptanceStats(ctx context.Context, driverID string) (AcceptanceStats, error)
}

const decisionColumns = `ride_id, driver_id, outcome, fare, distance_km, driver_rating,
	driver_acceptance_rate, driver_total_rides, decided_at`

type decisionRepository struct {
	db *sqlx.DB
}

func NewDecisionRepository(db *sqlx.DB) DecisionRepository {
	return &decisionRepository{db: db}
}

func (r *decisionRepository) Upsert(ctx context.Context, d *models.RideDecision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO ride_decisions (` + decisionColumns + `)
		VALUES (:ride_id, :driver_id, :outcome, :fare, :distance_km, :driver_rating,
			:driver_acceptance_rate, :driver_total_rides, :decided_at)
		ON CONFLICT (ride_id, driver_id) DO UPDATE
		SET outcome = EXCLUDED.outcome, decided_at = EXCLUDED.decided_at
	`
	_, err := r.db.NamedExecContext(ctx, query, d)
	return err
}

func (r *decisionRepository) ListAll(ctx context.Context) ([]*models.RideDecision, error) {
	var decisions []*models.RideDecision
	err := r.db.SelectContext(ctx, &decisions,
		`SELECT `+decisionColumns+` FROM ride_decisions ORDER BY decided_at, ride_id, driver_id`)
	return decisions, err
}

func (r *decisionRepository) ListByDriver(ctx context.Context, driverID string) ([]*models.RideDecision, error) {
	var decisions []*models.RideDecision
	err := r.db.SelectContext(ctx, &decisions,
		`SELECT `+decisionColumns+` FROM ride_decisions WHERE driver_id = $1 ORDER BY decided_at`, driverID)
	return decisions, err
}

func (r *decisionRepository) AcceptanceStats(ctx context.Context, driverID string) (AcceptanceStats, error) {
	var stats AcceptanceStats
	query := `
		SELECT COUNT(*) FILTER (WHERE outcome IN ($2, $3)) AS positive, COUNT(*) AS total
		FROM ride_decisions
		WHERE driver_id = $1
	`
	err := r.db.GetContext(ctx, &stats, query, driverID,
		string(models.DecisionAccepted), string(models.DecisionCompleted))
	return stats, err
}
