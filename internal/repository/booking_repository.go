package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/speaklab/booking-api/internal/models"
)

const selectBookingDetail = `SELECT b.id, b.slot_id, b.student_id, b.status, b.notes, b.cancelled_at, b.created_by, b.created_at, b.updated_at,
        s.date AS slot_date, s.start_time, s.end_time, s.branch_id, br.name AS branch_name,
        s.teacher_id, t.full_name AS teacher_name, st.full_name AS student_name
        FROM bookings b
        JOIN slots s ON s.id = b.slot_id
        JOIN branches br ON br.id = s.branch_id
        JOIN users t ON t.id = s.teacher_id
        JOIN users st ON st.id = b.student_id`

// BookingRepository manages persistence for bookings. The capacity and
// monthly-limit checks run inside a transaction holding a row lock on the
// slot, which closes the read-then-write race between concurrent bookings.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository constructs a BookingRepository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// BeginTx opens a transaction for the booking write path.
func (r *BookingRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	return tx, nil
}

// LockSlot loads the slot row FOR UPDATE so concurrent booking attempts on
// the same slot serialise behind this transaction.
func (r *BookingRepository) LockSlot(ctx context.Context, tx *sqlx.Tx, slotID string) (*models.Slot, error) {
	const query = `SELECT id, branch_id, teacher_id, room_id, service_type_id, date, start_time, end_time, capacity, status, notes, created_at, updated_at
        FROM slots WHERE id = $1 FOR UPDATE`
	var slot models.Slot
	if err := tx.GetContext(ctx, &slot, query, slotID); err != nil {
		return nil, err
	}
	return &slot, nil
}

// CountActiveForSlot counts capacity-consuming bookings within the transaction.
func (r *BookingRepository) CountActiveForSlot(ctx context.Context, tx *sqlx.Tx, slotID string) (int, error) {
	const query = `SELECT COUNT(id) FROM bookings WHERE slot_id = $1 AND status IN ($2, $3)`
	var count int
	if err := tx.GetContext(ctx, &count, query, slotID, models.BookingStatusConfirmed, models.BookingStatusCompleted); err != nil {
		return 0, fmt.Errorf("count active bookings: %w", err)
	}
	return count, nil
}

// CountStudentMonth counts the student's non-cancelled bookings whose slot
// date falls inside [monthStart, monthEnd).
func (r *BookingRepository) CountStudentMonth(ctx context.Context, tx *sqlx.Tx, studentID string, monthStart, monthEnd time.Time) (int, error) {
	const query = `SELECT COUNT(b.id) FROM bookings b
        JOIN slots s ON s.id = b.slot_id
        WHERE b.student_id = $1 AND b.status <> $2 AND s.date >= $3 AND s.date < $4`
	var count int
	if err := tx.GetContext(ctx, &count, query, studentID, models.BookingStatusCancelled, monthStart, monthEnd); err != nil {
		return 0, fmt.Errorf("count student month bookings: %w", err)
	}
	return count, nil
}

// CountStudentUsage is the non-transactional variant of CountStudentMonth,
// used by the usage endpoint.
func (r *BookingRepository) CountStudentUsage(ctx context.Context, studentID string, monthStart, monthEnd time.Time) (int, error) {
	const query = `SELECT COUNT(b.id) FROM bookings b
        JOIN slots s ON s.id = b.slot_id
        WHERE b.student_id = $1 AND b.status <> $2 AND s.date >= $3 AND s.date < $4`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, models.BookingStatusCancelled, monthStart, monthEnd); err != nil {
		return 0, fmt.Errorf("count student usage: %w", err)
	}
	return count, nil
}

// ExistsActiveForSlot reports whether the student already holds a
// non-cancelled booking on the slot.
func (r *BookingRepository) ExistsActiveForSlot(ctx context.Context, tx *sqlx.Tx, studentID, slotID string) (bool, error) {
	const query = `SELECT 1 FROM bookings WHERE student_id = $1 AND slot_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := tx.GetContext(ctx, &exists, query, studentID, slotID, models.BookingStatusCancelled); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check existing booking: %w", err)
	}
	return true, nil
}

// CreateTx inserts a booking within the transaction.
func (r *BookingRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now
	const query = `INSERT INTO bookings (id, slot_id, student_id, status, notes, created_by, created_at, updated_at)
        VALUES (:id, :slot_id, :student_id, :status, :notes, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, booking); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// FindByID fetches a booking detail by ID.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.BookingDetail, error) {
	query := selectBookingDetail + " WHERE b.id = $1"
	var detail models.BookingDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns booking details matching the provided filters.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("b.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("s.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.BranchID != "" {
		conditions = append(conditions, fmt.Sprintf("s.branch_id = $%d", len(args)+1))
		args = append(args, filter.BranchID)
	}
	if filter.SlotID != "" {
		conditions = append(conditions, fmt.Sprintf("b.slot_id = $%d", len(args)+1))
		args = append(args, filter.SlotID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("b.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("s.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("s.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	where := fmt.Sprintf(" WHERE %s", strings.Join(conditions, " AND "))

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("%s%s ORDER BY s.date %s, s.start_time %s LIMIT %d OFFSET %d",
		selectBookingDetail, where, order, order, size, offset)

	var bookings []models.BookingDetail
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(b.id) FROM bookings b JOIN slots s ON s.id = b.slot_id%s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}
	return bookings, total, nil
}

// UpdateStatus transitions a booking to a new status.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, status models.BookingStatus, cancelledAt *time.Time) error {
	const query = `UPDATE bookings SET status = $2, cancelled_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, cancelledAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	return nil
}

// HasActiveForSlot reports whether any capacity-consuming booking exists on
// the slot (used before slot updates and deletes).
func (r *BookingRepository) HasActiveForSlot(ctx context.Context, slotID string) (bool, error) {
	const query = `SELECT 1 FROM bookings WHERE slot_id = $1 AND status IN ($2, $3) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, slotID, models.BookingStatusConfirmed, models.BookingStatusCompleted); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check slot bookings: %w", err)
	}
	return true, nil
}
