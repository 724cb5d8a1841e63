package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type mockSlotStore struct {
	listRows        []models.SlotDetail
	listTotal       int
	listFilter      models.SlotFilter
	detail          *models.SlotDetail
	teacherConflict []models.Slot
	roomConflict    []models.Slot
	activeBookings  int

	created *models.Slot
	updated *models.Slot
	deleted string
}

func (m *mockSlotStore) List(_ context.Context, filter models.SlotFilter) ([]models.SlotDetail, int, error) {
	m.listFilter = filter
	return m.listRows, m.listTotal, nil
}

func (m *mockSlotStore) FindByID(_ context.Context, _ string) (*models.SlotDetail, error) {
	if m.detail == nil {
		return nil, sql.ErrNoRows
	}
	return m.detail, nil
}

func (m *mockSlotStore) FindTeacherOverlaps(_ context.Context, _, _ string, _ time.Time, _, _, _ string) ([]models.Slot, error) {
	return m.teacherConflict, nil
}

func (m *mockSlotStore) FindRoomOverlaps(_ context.Context, _ string, _ time.Time, _, _, _ string) ([]models.Slot, error) {
	return m.roomConflict, nil
}

func (m *mockSlotStore) CountActiveBookings(_ context.Context, _ string) (int, error) {
	return m.activeBookings, nil
}

func (m *mockSlotStore) Create(_ context.Context, slot *models.Slot) error {
	slot.ID = "slot-1"
	m.created = slot
	m.detail = &models.SlotDetail{Slot: *slot}
	return nil
}

func (m *mockSlotStore) Update(_ context.Context, slot *models.Slot) error {
	m.updated = slot
	return nil
}

func (m *mockSlotStore) Delete(_ context.Context, id string) error {
	m.deleted = id
	return nil
}

type mockCatalogLookup struct {
	rooms    map[string]*models.Room
	services map[string]*models.ServiceType
}

func (m *mockCatalogLookup) FindRoom(_ context.Context, id string) (*models.Room, error) {
	room, ok := m.rooms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return room, nil
}

func (m *mockCatalogLookup) FindServiceType(_ context.Context, id string) (*models.ServiceType, error) {
	st, ok := m.services[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return st, nil
}

type mockSlotBookings struct {
	hasActive bool
}

func (m *mockSlotBookings) HasActiveForSlot(_ context.Context, _ string) (bool, error) {
	return m.hasActive, nil
}

const (
	testBranchID  = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	testTeacherID = "2b3c4d5e-6f7a-4b8c-9d0e-1f2a3b4c5d6e"
	testRoomID    = "3c4d5e6f-7a8b-4c9d-8e0f-2a3b4c5d6e7f"
)

func defaultSlotRules() models.BookingRules {
	return models.BookingRules{
		MonthlyLimit:            8,
		CancellationCutoffHours: 12,
		SlotMinDurationMinutes:  30,
		SlotMaxDurationMinutes:  180,
	}
}

func newSlotFixture(store *mockSlotStore, bookings *mockSlotBookings) (*SlotService, *stubAudit) {
	branchID := testBranchID
	audit := &stubAudit{}
	if bookings == nil {
		bookings = &mockSlotBookings{}
	}
	svc := NewSlotService(SlotServiceParams{
		Repo: store,
		Users: &mockUserLookup{users: map[string]*models.User{
			testTeacherID: {ID: testTeacherID, Role: models.RoleTeacher, Active: true, BranchID: &branchID},
		}},
		Catalog: &mockCatalogLookup{
			rooms: map[string]*models.Room{
				testRoomID: {ID: testRoomID, BranchID: testBranchID, Active: true},
			},
		},
		Bookings: bookings,
		Rules:    &stubRules{rules: defaultSlotRules()},
		Audit:    audit,
		Logger:   zap.NewNop(),
	})
	return svc, audit
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleSuperAdmin}
}

func validSlotRequest() CreateSlotRequest {
	return CreateSlotRequest{
		BranchID:  testBranchID,
		TeacherID: testTeacherID,
		Date:      "2026-09-15",
		StartTime: "10:00",
		EndTime:   "10:45",
		Capacity:  3,
	}
}

func TestSlotCreateSuccess(t *testing.T) {
	store := &mockSlotStore{}
	svc, audit := newSlotFixture(store, nil)

	detail, err := svc.Create(context.Background(), adminClaims(), validSlotRequest())
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, models.SlotStatusOpen, detail.Status)
	require.NotNil(t, store.created)
	assert.Equal(t, testTeacherID, store.created.TeacherID)
	assert.Len(t, audit.entries, 1)
}

func TestSlotCreateRejectsEndBeforeStart(t *testing.T) {
	store := &mockSlotStore{}
	svc, _ := newSlotFixture(store, nil)

	req := validSlotRequest()
	req.StartTime = "11:00"
	req.EndTime = "10:00"
	_, err := svc.Create(context.Background(), adminClaims(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSlotCreateRejectsEqualTimes(t *testing.T) {
	store := &mockSlotStore{}
	svc, _ := newSlotFixture(store, nil)

	req := validSlotRequest()
	req.StartTime = "10:00"
	req.EndTime = "10:00"
	_, err := svc.Create(context.Background(), adminClaims(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSlotCreateDurationBounds(t *testing.T) {
	cases := []struct {
		name    string
		start   string
		end     string
		wantErr bool
	}{
		{name: "thirty minutes ok", start: "10:00", end: "10:30"},
		{name: "ninety minutes ok", start: "10:00", end: "11:30"},
		{name: "max duration ok", start: "10:00", end: "13:00"},
		{name: "too short", start: "10:00", end: "10:15", wantErr: true},
		{name: "too long", start: "10:00", end: "13:30", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockSlotStore{}
			svc, _ := newSlotFixture(store, nil)
			req := validSlotRequest()
			req.StartTime = tc.start
			req.EndTime = tc.end
			_, err := svc.Create(context.Background(), adminClaims(), req)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSlotCreateTeacherOverlapRejected(t *testing.T) {
	store := &mockSlotStore{teacherConflict: []models.Slot{{ID: "other"}}}
	svc, _ := newSlotFixture(store, nil)

	_, err := svc.Create(context.Background(), adminClaims(), validSlotRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotConflict.Code, appErrors.FromError(err).Code)
}

func TestSlotCreateRoomOverlapRejected(t *testing.T) {
	store := &mockSlotStore{roomConflict: []models.Slot{{ID: "other"}}}
	svc, _ := newSlotFixture(store, nil)

	req := validSlotRequest()
	req.RoomID = testRoomID
	_, err := svc.Create(context.Background(), adminClaims(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotConflict.Code, appErrors.FromError(err).Code)
}

func TestSlotCreateBranchAdminOutsideBranchForbidden(t *testing.T) {
	store := &mockSlotStore{}
	svc, _ := newSlotFixture(store, nil)

	otherBranch := "9f8e7d6c-5b4a-4c3d-8e2f-1a0b9c8d7e6f"
	claims := &models.JWTClaims{UserID: "admin-2", Role: models.RoleBranchAdmin, BranchID: &otherBranch}
	_, err := svc.Create(context.Background(), claims, validSlotRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSlotUpdateCapacityBelowBookingsRejected(t *testing.T) {
	store := &mockSlotStore{detail: &models.SlotDetail{
		Slot:        models.Slot{ID: "slot-1", BranchID: testBranchID, TeacherID: testTeacherID, StartTime: "10:00", EndTime: "10:45", Capacity: 4, Status: models.SlotStatusOpen},
		BookedCount: 3,
	}}
	svc, _ := newSlotFixture(store, nil)

	capacity := 2
	_, err := svc.Update(context.Background(), adminClaims(), "slot-1", UpdateSlotRequest{Capacity: &capacity})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Nil(t, store.updated)
}

func TestSlotUpdateUnknownServiceTypeRejected(t *testing.T) {
	store := &mockSlotStore{detail: &models.SlotDetail{
		Slot: models.Slot{ID: "slot-1", BranchID: testBranchID, TeacherID: testTeacherID, StartTime: "10:00", EndTime: "10:45", Capacity: 4, Status: models.SlotStatusOpen},
	}}
	svc, _ := newSlotFixture(store, nil)

	unknown := "4d5e6f7a-8b9c-4d0e-9f1a-3b4c5d6e7f8a"
	_, err := svc.Update(context.Background(), adminClaims(), "slot-1", UpdateSlotRequest{ServiceTypeID: &unknown})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Nil(t, store.updated)
}

func TestSlotUpdateRescheduleWithBookingsRejected(t *testing.T) {
	store := &mockSlotStore{detail: &models.SlotDetail{
		Slot:        models.Slot{ID: "slot-1", BranchID: testBranchID, TeacherID: testTeacherID, StartTime: "10:00", EndTime: "10:45", Capacity: 4, Status: models.SlotStatusOpen},
		BookedCount: 1,
	}}
	svc, _ := newSlotFixture(store, nil)

	_, err := svc.Update(context.Background(), adminClaims(), "slot-1", UpdateSlotRequest{StartTime: "11:00", EndTime: "11:45"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSlotDeleteWithActiveBookingsRejected(t *testing.T) {
	store := &mockSlotStore{detail: &models.SlotDetail{
		Slot: models.Slot{ID: "slot-1", BranchID: testBranchID, StartTime: "10:00", EndTime: "10:45"},
	}}
	svc, _ := newSlotFixture(store, &mockSlotBookings{hasActive: true})

	err := svc.Delete(context.Background(), adminClaims(), "slot-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.deleted)
}

func TestSlotDeleteSuccess(t *testing.T) {
	store := &mockSlotStore{detail: &models.SlotDetail{
		Slot: models.Slot{ID: "slot-1", BranchID: testBranchID, StartTime: "10:00", EndTime: "10:45"},
	}}
	svc, audit := newSlotFixture(store, &mockSlotBookings{})

	err := svc.Delete(context.Background(), adminClaims(), "slot-1")
	require.NoError(t, err)
	assert.Equal(t, "slot-1", store.deleted)
	assert.Len(t, audit.entries, 1)
}

func TestSlotListScopesByRole(t *testing.T) {
	store := &mockSlotStore{}
	svc, _ := newSlotFixture(store, nil)

	branch := testBranchID
	cases := []struct {
		name   string
		claims *models.JWTClaims
		check  func(t *testing.T, filter models.SlotFilter)
	}{
		{
			name:   "student only open",
			claims: &models.JWTClaims{UserID: "stu", Role: models.RoleStudent},
			check: func(t *testing.T, filter models.SlotFilter) {
				assert.True(t, filter.OnlyOpen)
			},
		},
		{
			name:   "branch admin scoped",
			claims: &models.JWTClaims{UserID: "adm", Role: models.RoleBranchAdmin, BranchID: &branch},
			check: func(t *testing.T, filter models.SlotFilter) {
				assert.Equal(t, testBranchID, filter.BranchID)
			},
		},
		{
			name:   "teacher own slots",
			claims: &models.JWTClaims{UserID: "tea", Role: models.RoleTeacher},
			check: func(t *testing.T, filter models.SlotFilter) {
				assert.Equal(t, "tea", filter.TeacherID)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.List(context.Background(), tc.claims, models.SlotFilter{})
			require.NoError(t, err)
			tc.check(t, store.listFilter)
		})
	}
}
