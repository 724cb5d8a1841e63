package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/speaklab/booking-api/internal/models"
)

// DashboardRepository exposes read-optimised aggregate queries for the
// branch dashboard.
type DashboardRepository struct {
	db *sqlx.DB
}

// NewDashboardRepository instantiates the repository.
func NewDashboardRepository(db *sqlx.DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// CountSlotsOnDate returns total and open slot counts for a branch on a date.
func (r *DashboardRepository) CountSlotsOnDate(ctx context.Context, branchID string, date time.Time) (total, open int, err error) {
	query := `SELECT COUNT(id) AS total,
        SUM(CASE WHEN status = 'OPEN' THEN 1 ELSE 0 END) AS open
        FROM slots WHERE branch_id = $1 AND date = $2`
	var row struct {
		Total int  `db:"total"`
		Open  *int `db:"open"`
	}
	if err := r.db.GetContext(ctx, &row, query, branchID, date); err != nil {
		return 0, 0, fmt.Errorf("count slots on date: %w", err)
	}
	if row.Open != nil {
		open = *row.Open
	}
	return row.Total, open, nil
}

// CountBookingsByStatus buckets a branch's bookings by status for slots whose
// date falls inside [monthStart, monthEnd).
func (r *DashboardRepository) CountBookingsByStatus(ctx context.Context, branchID string, monthStart, monthEnd time.Time) ([]models.DashboardBookingCount, error) {
	query := `SELECT b.status, COUNT(b.id) AS count
        FROM bookings b
        JOIN slots s ON s.id = b.slot_id
        WHERE s.branch_id = $1 AND s.date >= $2 AND s.date < $3
        GROUP BY b.status`
	var counts []models.DashboardBookingCount
	if err := r.db.SelectContext(ctx, &counts, query, branchID, monthStart, monthEnd); err != nil {
		return nil, fmt.Errorf("count bookings by status: %w", err)
	}
	return counts, nil
}

// CountActiveUsersByRole returns the number of active users with the given
// role in a branch.
func (r *DashboardRepository) CountActiveUsersByRole(ctx context.Context, branchID string, role models.UserRole) (int, error) {
	query := `SELECT COUNT(id) FROM users WHERE branch_id = $1 AND role = $2 AND active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, branchID, role); err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return count, nil
}

// AverageOverallBand computes the mean overall band across a branch's
// assessments inside [monthStart, monthEnd). Returns nil when no assessments
// exist in the window.
func (r *DashboardRepository) AverageOverallBand(ctx context.Context, branchID string, monthStart, monthEnd time.Time) (*float64, error) {
	query := `SELECT AVG(a.overall_band)
        FROM assessments a
        JOIN bookings b ON b.id = a.booking_id
        JOIN slots s ON s.id = b.slot_id
        WHERE s.branch_id = $1 AND s.date >= $2 AND s.date < $3`
	var avg *float64
	if err := r.db.GetContext(ctx, &avg, query, branchID, monthStart, monthEnd); err != nil {
		return nil, fmt.Errorf("average overall band: %w", err)
	}
	return avg, nil
}
