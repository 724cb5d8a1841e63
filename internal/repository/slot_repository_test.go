package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speaklab/booking-api/internal/models"
)

func newSlotMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func slotDetailColumns() []string {
	return []string{"id", "branch_id", "teacher_id", "room_id", "service_type_id", "date", "start_time", "end_time", "capacity", "status", "notes", "created_at", "updated_at", "teacher_name", "branch_name", "room_name", "service_name", "booked_count", "available_spots"}
}

func TestSlotRepositoryList(t *testing.T) {
	db, mock, cleanup := newSlotMock(t)
	defer cleanup()
	repo := NewSlotRepository(db)

	rows := sqlmock.NewRows(slotDetailColumns()).
		AddRow("slot-1", "branch-1", "teacher-1", nil, nil, time.Now(), "10:00", "11:00", 2, models.SlotStatusOpen, "", time.Now(), time.Now(), "Teacher", "Downtown", nil, nil, 1, 1)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY s.date ASC, s.start_time ASC LIMIT 20 OFFSET 0")).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(s.id) FROM slots s WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	slots, total, err := repo.List(context.Background(), models.SlotFilter{})
	require.NoError(t, err)
	assert.Len(t, slots, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, slots[0].BookedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryListFiltersByBranchAndDate(t *testing.T) {
	db, mock, cleanup := newSlotMock(t)
	defer cleanup()
	repo := NewSlotRepository(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("s.branch_id = $1 AND s.date >= $2")).
		WithArgs("branch-1", from).
		WillReturnRows(sqlmock.NewRows(slotDetailColumns()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(s.id) FROM slots s")).
		WithArgs("branch-1", from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	slots, total, err := repo.List(context.Background(), models.SlotFilter{BranchID: "branch-1", DateFrom: &from})
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryFindTeacherOverlaps(t *testing.T) {
	db, mock, cleanup := newSlotMock(t)
	defer cleanup()
	repo := NewSlotRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "branch_id", "teacher_id", "room_id", "service_type_id", "date", "start_time", "end_time", "capacity", "status", "notes", "created_at", "updated_at"}).
		AddRow("slot-1", "branch-1", "teacher-1", nil, nil, date, "10:00", "11:00", 2, models.SlotStatusOpen, "", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("start_time < $4 AND end_time > $5")).
		WithArgs("branch-1", "teacher-1", date, "11:30", "10:30").
		WillReturnRows(rows)

	slots, err := repo.FindTeacherOverlaps(context.Background(), "branch-1", "teacher-1", date, "10:30", "11:30", "")
	require.NoError(t, err)
	assert.Len(t, slots, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newSlotMock(t)
	defer cleanup()
	repo := NewSlotRepository(db)

	mock.ExpectExec("INSERT INTO slots").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	slot := &models.Slot{
		BranchID:  "branch-1",
		TeacherID: "teacher-1",
		Date:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime: "10:00",
		EndTime:   "11:00",
		Capacity:  2,
		Status:    models.SlotStatusOpen,
	}
	err := repo.Create(context.Background(), slot)
	require.NoError(t, err)
	assert.NotEmpty(t, slot.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newSlotMock(t)
	defer cleanup()
	repo := NewSlotRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM slots WHERE id = $1")).
		WithArgs("slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "slot-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
