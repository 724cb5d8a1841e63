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

const selectAssessmentDetail = `SELECT a.id, a.booking_id, a.teacher_id, a.overall_band, a.fluency_band, a.lexical_band, a.grammar_band, a.pronunciation_band, a.remarks, a.created_at, a.updated_at,
        b.student_id, st.full_name AS student_name, t.full_name AS teacher_name, s.branch_id, s.date AS slot_date
        FROM assessments a
        JOIN bookings b ON b.id = a.booking_id
        JOIN slots s ON s.id = b.slot_id
        JOIN users st ON st.id = b.student_id
        JOIN users t ON t.id = a.teacher_id`

// AssessmentRepository manages persistence for assessments.
type AssessmentRepository struct {
	db *sqlx.DB
}

// NewAssessmentRepository constructs an AssessmentRepository.
func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// List returns assessment details matching the provided filters.
func (r *AssessmentRepository) List(ctx context.Context, filter models.AssessmentFilter) ([]models.AssessmentDetail, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("b.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("a.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.BranchID != "" {
		conditions = append(conditions, fmt.Sprintf("s.branch_id = $%d", len(args)+1))
		args = append(args, filter.BranchID)
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

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("%s%s ORDER BY s.date DESC, a.created_at DESC LIMIT %d OFFSET %d",
		selectAssessmentDetail, where, size, offset)

	var assessments []models.AssessmentDetail
	if err := r.db.SelectContext(ctx, &assessments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assessments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(a.id) FROM assessments a JOIN bookings b ON b.id = a.booking_id JOIN slots s ON s.id = b.slot_id%s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count assessments: %w", err)
	}
	return assessments, total, nil
}

// FindByID fetches an assessment detail by ID.
func (r *AssessmentRepository) FindByID(ctx context.Context, id string) (*models.AssessmentDetail, error) {
	query := selectAssessmentDetail + " WHERE a.id = $1"
	var detail models.AssessmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByBooking fetches the assessment for a booking if one exists.
func (r *AssessmentRepository) FindByBooking(ctx context.Context, bookingID string) (*models.AssessmentDetail, error) {
	query := selectAssessmentDetail + " WHERE a.booking_id = $1"
	var detail models.AssessmentDetail
	if err := r.db.GetContext(ctx, &detail, query, bookingID); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsForBooking reports whether the booking already has an assessment.
func (r *AssessmentRepository) ExistsForBooking(ctx context.Context, bookingID string) (bool, error) {
	const query = `SELECT 1 FROM assessments WHERE booking_id = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, bookingID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check assessment: %w", err)
	}
	return true, nil
}

// Create inserts a new assessment record.
func (r *AssessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = now
	}
	assessment.UpdatedAt = now
	const query = `INSERT INTO assessments (id, booking_id, teacher_id, overall_band, fluency_band, lexical_band, grammar_band, pronunciation_band, remarks, created_at, updated_at)
        VALUES (:id, :booking_id, :teacher_id, :overall_band, :fluency_band, :lexical_band, :grammar_band, :pronunciation_band, :remarks, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}
	return nil
}

// Update modifies an existing assessment.
func (r *AssessmentRepository) Update(ctx context.Context, assessment *models.Assessment) error {
	assessment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assessments SET overall_band = :overall_band, fluency_band = :fluency_band, lexical_band = :lexical_band, grammar_band = :grammar_band, pronunciation_band = :pronunciation_band, remarks = :remarks, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	return nil
}
