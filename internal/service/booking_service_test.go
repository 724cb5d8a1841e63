package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type mockBookingStore struct {
	db *sqlx.DB

	slot        *models.Slot
	slotErr     error
	activeCount int
	monthCount  int
	duplicate   bool
	detail      *models.BookingDetail
	detailErr   error
	listRows    []models.BookingDetail
	listTotal   int

	created       *models.Booking
	updatedStatus *models.BookingStatus
	cancelledAt   *time.Time
}

func (m *mockBookingStore) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, nil)
}

func (m *mockBookingStore) LockSlot(_ context.Context, _ *sqlx.Tx, _ string) (*models.Slot, error) {
	if m.slotErr != nil {
		return nil, m.slotErr
	}
	return m.slot, nil
}

func (m *mockBookingStore) CountActiveForSlot(_ context.Context, _ *sqlx.Tx, _ string) (int, error) {
	return m.activeCount, nil
}

func (m *mockBookingStore) CountStudentMonth(_ context.Context, _ *sqlx.Tx, _ string, _, _ time.Time) (int, error) {
	return m.monthCount, nil
}

func (m *mockBookingStore) ExistsActiveForSlot(_ context.Context, _ *sqlx.Tx, _, _ string) (bool, error) {
	return m.duplicate, nil
}

func (m *mockBookingStore) CountStudentUsage(_ context.Context, _ string, _, _ time.Time) (int, error) {
	return m.monthCount, nil
}

func (m *mockBookingStore) CreateTx(_ context.Context, _ *sqlx.Tx, booking *models.Booking) error {
	booking.ID = "booking-1"
	m.created = booking
	return nil
}

func (m *mockBookingStore) FindByID(_ context.Context, _ string) (*models.BookingDetail, error) {
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	return m.detail, nil
}

func (m *mockBookingStore) List(_ context.Context, _ models.BookingFilter) ([]models.BookingDetail, int, error) {
	return m.listRows, m.listTotal, nil
}

func (m *mockBookingStore) UpdateStatus(_ context.Context, _ string, status models.BookingStatus, cancelledAt *time.Time) error {
	m.updatedStatus = &status
	m.cancelledAt = cancelledAt
	return nil
}

type mockUserLookup struct {
	users map[string]*models.User
}

func (m *mockUserLookup) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

type stubRules struct {
	rules models.BookingRules
}

func (s *stubRules) BookingRules(_ context.Context) (models.BookingRules, error) {
	return s.rules, nil
}

type capturedNotification struct {
	userID string
	kind   models.NotificationType
}

type stubNotifier struct {
	sent []capturedNotification
}

func (s *stubNotifier) Notify(_ context.Context, userID string, kind models.NotificationType, _, _ string) {
	s.sent = append(s.sent, capturedNotification{userID: userID, kind: kind})
}

type stubAudit struct {
	entries []*models.AuditLog
}

func (s *stubAudit) Create(_ context.Context, entry *models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

const (
	testSlotID    = "6f1a2d3e-4b5c-4d6e-8f90-1a2b3c4d5e6f"
	testStudentID = "7a1b2c3d-4e5f-4a6b-8c9d-0e1f2a3b4c5d"
)

func fixedClock() time.Time {
	return time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
}

func openSlot(capacity int) *models.Slot {
	return &models.Slot{
		ID:        testSlotID,
		BranchID:  "branch-1",
		TeacherID: "teacher-1",
		Date:      time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		StartTime: "10:00",
		EndTime:   "10:45",
		Capacity:  capacity,
		Status:    models.SlotStatusOpen,
	}
}

func activeStudent() *models.User {
	branch := "branch-1"
	return &models.User{ID: testStudentID, Role: models.RoleStudent, Active: true, BranchID: &branch}
}

func newBookingFixture(t *testing.T, store *mockBookingStore) (*BookingService, sqlmock.Sqlmock, *stubNotifier, *stubAudit) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store.db = sqlx.NewDb(db, "sqlmock")

	notifier := &stubNotifier{}
	audit := &stubAudit{}
	svc := NewBookingService(BookingServiceParams{
		Repo:          store,
		Users:         &mockUserLookup{users: map[string]*models.User{testStudentID: activeStudent()}},
		Rules:         &stubRules{rules: models.BookingRules{MonthlyLimit: 8, CancellationCutoffHours: 12}},
		Notifications: notifier,
		Audit:         audit,
		Logger:        zap.NewNop(),
		Now:           fixedClock,
	})
	return svc, mock, notifier, audit
}

func studentClaims() *models.JWTClaims {
	branch := "branch-1"
	return &models.JWTClaims{UserID: testStudentID, Role: models.RoleStudent, BranchID: &branch}
}

func TestBookingCreateSuccess(t *testing.T) {
	store := &mockBookingStore{
		slot: openSlot(2),
		detail: &models.BookingDetail{
			Booking:     models.Booking{ID: "booking-1", SlotID: testSlotID, StudentID: testStudentID, Status: models.BookingStatusConfirmed},
			SlotDate:    time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
			StartTime:   "10:00",
			BranchID:    "branch-1",
			BranchName:  "Downtown",
			TeacherID:   "teacher-1",
			StudentName: "Student One",
		},
	}
	svc, mock, notifier, audit := newBookingFixture(t, store)
	mock.ExpectBegin()
	mock.ExpectCommit()

	detail, err := svc.Create(context.Background(), studentClaims(), CreateBookingRequest{SlotID: testSlotID})
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, models.BookingStatusConfirmed, detail.Status)
	require.NotNil(t, store.created)
	assert.Equal(t, testStudentID, store.created.StudentID)
	assert.Len(t, audit.entries, 1)
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, testStudentID, notifier.sent[0].userID)
	assert.Equal(t, models.NotificationBookingConfirmed, notifier.sent[0].kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingCreateCapacityExceeded(t *testing.T) {
	store := &mockBookingStore{slot: openSlot(2), activeCount: 2}
	svc, mock, _, _ := newBookingFixture(t, store)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), studentClaims(), CreateBookingRequest{SlotID: testSlotID})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErr.Code)
	assert.Nil(t, store.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingCreateMonthlyLimitReached(t *testing.T) {
	store := &mockBookingStore{slot: openSlot(5), monthCount: 8}
	svc, mock, _, _ := newBookingFixture(t, store)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), studentClaims(), CreateBookingRequest{SlotID: testSlotID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMonthlyLimit.Code, appErrors.FromError(err).Code)
}

func TestBookingCreateDuplicateRejected(t *testing.T) {
	store := &mockBookingStore{slot: openSlot(5), duplicate: true}
	svc, mock, _, _ := newBookingFixture(t, store)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), studentClaims(), CreateBookingRequest{SlotID: testSlotID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestBookingCreateClosedSlotRejected(t *testing.T) {
	slot := openSlot(5)
	slot.Status = models.SlotStatusClosed
	store := &mockBookingStore{slot: slot}
	svc, mock, _, _ := newBookingFixture(t, store)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), studentClaims(), CreateBookingRequest{SlotID: testSlotID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotClosed.Code, appErrors.FromError(err).Code)
}

func TestBookingCreateSlotNotFound(t *testing.T) {
	store := &mockBookingStore{slotErr: sql.ErrNoRows}
	svc, mock, _, _ := newBookingFixture(t, store)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), studentClaims(), CreateBookingRequest{SlotID: testSlotID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestBookingCreateTeacherForbidden(t *testing.T) {
	store := &mockBookingStore{slot: openSlot(5)}
	svc, _, _, _ := newBookingFixture(t, store)

	claims := &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
	_, err := svc.Create(context.Background(), claims, CreateBookingRequest{SlotID: testSlotID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBookingCreateStudentCannotBookForOthers(t *testing.T) {
	store := &mockBookingStore{slot: openSlot(5)}
	svc, _, _, _ := newBookingFixture(t, store)

	req := CreateBookingRequest{SlotID: testSlotID, StudentID: "8b1c2d3e-4f5a-4b6c-9d0e-1f2a3b4c5d6e"}
	_, err := svc.Create(context.Background(), studentClaims(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func confirmedDetail() *models.BookingDetail {
	return &models.BookingDetail{
		Booking:   models.Booking{ID: "booking-1", SlotID: testSlotID, StudentID: testStudentID, Status: models.BookingStatusConfirmed},
		SlotDate:  time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		StartTime: "10:00",
		BranchID:  "branch-1",
		TeacherID: "teacher-1",
	}
}

func TestBookingCancelTeacherForbidden(t *testing.T) {
	detail := confirmedDetail()
	detail.SlotDate = time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	detail.StartTime = "09:00"
	store := &mockBookingStore{detail: detail}
	svc, _, _, _ := newBookingFixture(t, store)

	// not the slot's teacher and from another branch, inside the cutoff
	branch := "branch-9"
	claims := &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher, BranchID: &branch}
	_, err := svc.Cancel(context.Background(), claims, "booking-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, store.updatedStatus)
}

func TestBookingCancelSlotTeacherForbidden(t *testing.T) {
	store := &mockBookingStore{detail: confirmedDetail()}
	svc, _, _, _ := newBookingFixture(t, store)

	branch := "branch-1"
	claims := &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher, BranchID: &branch}
	_, err := svc.Cancel(context.Background(), claims, "booking-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, store.updatedStatus)
}

func TestBookingCancelOutsideCutoffSucceeds(t *testing.T) {
	store := &mockBookingStore{detail: confirmedDetail()}
	svc, _, notifier, _ := newBookingFixture(t, store)

	detail, err := svc.Cancel(context.Background(), studentClaims(), "booking-1")
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.NotNil(t, store.updatedStatus)
	assert.Equal(t, models.BookingStatusCancelled, *store.updatedStatus)
	require.NotNil(t, store.cancelledAt)
	assert.Len(t, notifier.sent, 2)
}

func TestBookingCancelInsideCutoffRejected(t *testing.T) {
	detail := confirmedDetail()
	detail.SlotDate = time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	detail.StartTime = "15:00"
	store := &mockBookingStore{detail: detail}
	svc, _, _, _ := newBookingFixture(t, store)

	// slot starts 7h after the fixed clock, cutoff is 12h
	_, err := svc.Cancel(context.Background(), studentClaims(), "booking-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCancellationWindow.Code, appErrors.FromError(err).Code)
	assert.Nil(t, store.updatedStatus)
}

func TestBookingCancelAdminIgnoresCutoff(t *testing.T) {
	detail := confirmedDetail()
	detail.SlotDate = time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	detail.StartTime = "15:00"
	store := &mockBookingStore{detail: detail}
	svc, _, _, _ := newBookingFixture(t, store)

	branch := "branch-1"
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleBranchAdmin, BranchID: &branch}
	_, err := svc.Cancel(context.Background(), claims, "booking-1")
	require.NoError(t, err)
	require.NotNil(t, store.updatedStatus)
	assert.Equal(t, models.BookingStatusCancelled, *store.updatedStatus)
}

func TestBookingCancelAlreadyCancelled(t *testing.T) {
	detail := confirmedDetail()
	detail.Status = models.BookingStatusCancelled
	store := &mockBookingStore{detail: detail}
	svc, _, _, _ := newBookingFixture(t, store)

	_, err := svc.Cancel(context.Background(), studentClaims(), "booking-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestBookingCompleteByTeacher(t *testing.T) {
	detail := confirmedDetail()
	detail.SlotDate = time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)
	store := &mockBookingStore{detail: detail}
	svc, _, notifier, _ := newBookingFixture(t, store)

	claims := &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
	_, err := svc.Complete(context.Background(), claims, "booking-1")
	require.NoError(t, err)
	require.NotNil(t, store.updatedStatus)
	assert.Equal(t, models.BookingStatusCompleted, *store.updatedStatus)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, models.NotificationBookingCompleted, notifier.sent[0].kind)
}

func TestBookingCompleteWrongTeacherForbidden(t *testing.T) {
	detail := confirmedDetail()
	detail.SlotDate = time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)
	store := &mockBookingStore{detail: detail}
	svc, _, _, _ := newBookingFixture(t, store)

	claims := &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	_, err := svc.Complete(context.Background(), claims, "booking-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBookingCompleteBeforeStartRejected(t *testing.T) {
	store := &mockBookingStore{detail: confirmedDetail()}
	svc, _, _, _ := newBookingFixture(t, store)

	claims := &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
	_, err := svc.Complete(context.Background(), claims, "booking-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestBookingGetOtherStudentForbidden(t *testing.T) {
	store := &mockBookingStore{detail: confirmedDetail()}
	svc, _, _, _ := newBookingFixture(t, store)

	claims := &models.JWTClaims{UserID: "someone-else", Role: models.RoleStudent}
	_, err := svc.Get(context.Background(), claims, "booking-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBookingListScopesStudent(t *testing.T) {
	store := &mockBookingStore{listRows: []models.BookingDetail{*confirmedDetail()}, listTotal: 1}
	svc, _, _, _ := newBookingFixture(t, store)

	rows, pagination, err := svc.List(context.Background(), studentClaims(), models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestBookingBranchAdminCannotTouchOtherBranch(t *testing.T) {
	store := &mockBookingStore{detail: confirmedDetail()}
	svc, _, _, _ := newBookingFixture(t, store)

	branch := "branch-2"
	claims := &models.JWTClaims{UserID: "admin-2", Role: models.RoleBranchAdmin, BranchID: &branch}
	_, err := svc.Cancel(context.Background(), claims, "booking-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBookingCreateInactiveStudentRejected(t *testing.T) {
	store := &mockBookingStore{slot: openSlot(5)}
	svc, _, _, _ := newBookingFixture(t, store)

	branch := "branch-1"
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleBranchAdmin, BranchID: &branch}
	req := CreateBookingRequest{SlotID: testSlotID, StudentID: "9c1d2e3f-4a5b-4c6d-8e9f-0a1b2c3d4e5f"}
	_, err := svc.Create(context.Background(), claims, req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBookingMonthlyUsage(t *testing.T) {
	store := &mockBookingStore{monthCount: 3}
	svc, _, _, _ := newBookingFixture(t, store)

	usage, err := svc.MonthlyUsage(context.Background(), studentClaims(), testStudentID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03", usage.Month)
	assert.Equal(t, 3, usage.Used)
	assert.Equal(t, 8, usage.Limit)
	assert.Equal(t, 5, usage.Remaining)
}

func TestBookingMonthlyUsageOtherStudentForbidden(t *testing.T) {
	store := &mockBookingStore{}
	svc, _, _, _ := newBookingFixture(t, store)

	_, err := svc.MonthlyUsage(context.Background(), studentClaims(), "someone-else")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBookingMonthlyUsageBranchAdminScoped(t *testing.T) {
	store := &mockBookingStore{monthCount: 8}
	svc, _, _, _ := newBookingFixture(t, store)

	branch := "branch-2"
	claims := &models.JWTClaims{UserID: "admin-2", Role: models.RoleBranchAdmin, BranchID: &branch}
	_, err := svc.MonthlyUsage(context.Background(), claims, testStudentID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
