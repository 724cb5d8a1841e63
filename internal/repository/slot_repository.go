package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/speaklab/booking-api/internal/models"
)

// selectSlotDetail is the shared projection for slot detail queries. The
// booked count only considers statuses that consume capacity.
const selectSlotDetail = `SELECT s.id, s.branch_id, s.teacher_id, s.room_id, s.service_type_id, s.date, s.start_time, s.end_time, s.capacity, s.status, s.notes, s.created_at, s.updated_at,
        t.full_name AS teacher_name, b.name AS branch_name, r.name AS room_name, st.name AS service_name,
        COALESCE(bk.booked, 0) AS booked_count,
        s.capacity - COALESCE(bk.booked, 0) AS available_spots`

const fromSlotDetail = ` FROM slots s
        JOIN users t ON t.id = s.teacher_id
        JOIN branches b ON b.id = s.branch_id
        LEFT JOIN rooms r ON r.id = s.room_id
        LEFT JOIN service_types st ON st.id = s.service_type_id
        LEFT JOIN (SELECT slot_id, COUNT(*) AS booked FROM bookings WHERE status IN ('CONFIRMED', 'COMPLETED') GROUP BY slot_id) bk ON bk.slot_id = s.id`

// SlotRepository manages persistence for slots.
type SlotRepository struct {
	db *sqlx.DB
}

// NewSlotRepository constructs a SlotRepository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

// List returns slot details matching the provided filters.
func (r *SlotRepository) List(ctx context.Context, filter models.SlotFilter) ([]models.SlotDetail, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.BranchID != "" {
		conditions = append(conditions, fmt.Sprintf("s.branch_id = $%d", len(args)+1))
		args = append(args, filter.BranchID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("s.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.OnlyOpen {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, models.SlotStatusOpen)
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

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"date":       "s.date",
		"start_time": "s.start_time",
		"created_at": "s.created_at",
	}
	if sortBy == "" {
		sortBy = "date"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "s.date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf("%s%s%s ORDER BY %s %s, s.start_time ASC LIMIT %d OFFSET %d",
		selectSlotDetail, fromSlotDetail, where, column, order, size, offset)

	var slots []models.SlotDetail
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list slots: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(s.id) FROM slots s%s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count slots: %w", err)
	}
	return slots, total, nil
}

// FindByID fetches a slot detail by ID.
func (r *SlotRepository) FindByID(ctx context.Context, id string) (*models.SlotDetail, error) {
	query := selectSlotDetail + fromSlotDetail + " WHERE s.id = $1"
	var detail models.SlotDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindTeacherOverlaps returns slots for the same teacher, branch and date
// whose interval overlaps [start, end). The interval condition covers a new
// slot starting inside, ending inside, or containing an existing slot.
func (r *SlotRepository) FindTeacherOverlaps(ctx context.Context, branchID, teacherID string, date time.Time, start, end, excludeID string) ([]models.Slot, error) {
	query := `SELECT id, branch_id, teacher_id, room_id, service_type_id, date, start_time, end_time, capacity, status, notes, created_at, updated_at
        FROM slots WHERE branch_id = $1 AND teacher_id = $2 AND date = $3 AND start_time < $4 AND end_time > $5`
	args := []interface{}{branchID, teacherID, date, end, start}
	if excludeID != "" {
		query += " AND id <> $6"
		args = append(args, excludeID)
	}
	var slots []models.Slot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("find teacher overlaps: %w", err)
	}
	return slots, nil
}

// FindRoomOverlaps returns slots occupying the same room on the same date
// whose interval overlaps [start, end).
func (r *SlotRepository) FindRoomOverlaps(ctx context.Context, roomID string, date time.Time, start, end, excludeID string) ([]models.Slot, error) {
	query := `SELECT id, branch_id, teacher_id, room_id, service_type_id, date, start_time, end_time, capacity, status, notes, created_at, updated_at
        FROM slots WHERE room_id = $1 AND date = $2 AND start_time < $3 AND end_time > $4`
	args := []interface{}{roomID, date, end, start}
	if excludeID != "" {
		query += " AND id <> $5"
		args = append(args, excludeID)
	}
	var slots []models.Slot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("find room overlaps: %w", err)
	}
	return slots, nil
}

// CountActiveBookings counts bookings holding a spot on the slot.
func (r *SlotRepository) CountActiveBookings(ctx context.Context, slotID string) (int, error) {
	const query = `SELECT COUNT(id) FROM bookings WHERE slot_id = $1 AND status IN ($2, $3)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, slotID, models.BookingStatusConfirmed, models.BookingStatusCompleted); err != nil {
		return 0, fmt.Errorf("count slot bookings: %w", err)
	}
	return count, nil
}

// Create stores a new slot record.
func (r *SlotRepository) Create(ctx context.Context, slot *models.Slot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now
	const query = `INSERT INTO slots (id, branch_id, teacher_id, room_id, service_type_id, date, start_time, end_time, capacity, status, notes, created_at, updated_at)
        VALUES (:id, :branch_id, :teacher_id, :room_id, :service_type_id, :date, :start_time, :end_time, :capacity, :status, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("create slot: %w", err)
	}
	return nil
}

// Update modifies an existing slot.
func (r *SlotRepository) Update(ctx context.Context, slot *models.Slot) error {
	slot.UpdatedAt = time.Now().UTC()
	const query = `UPDATE slots SET room_id = :room_id, service_type_id = :service_type_id, date = :date, start_time = :start_time, end_time = :end_time, capacity = :capacity, status = :status, notes = :notes, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	return nil
}

// Delete removes a slot. Callers must verify no active bookings exist first.
func (r *SlotRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM slots WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}
