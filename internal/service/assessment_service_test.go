package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type mockAssessmentStore struct {
	detail  *models.AssessmentDetail
	exists  bool
	created *models.Assessment
	updated *models.Assessment
}

func (m *mockAssessmentStore) List(_ context.Context, _ models.AssessmentFilter) ([]models.AssessmentDetail, int, error) {
	if m.detail == nil {
		return nil, 0, nil
	}
	return []models.AssessmentDetail{*m.detail}, 1, nil
}

func (m *mockAssessmentStore) FindByID(_ context.Context, _ string) (*models.AssessmentDetail, error) {
	if m.detail == nil {
		return nil, sql.ErrNoRows
	}
	return m.detail, nil
}

func (m *mockAssessmentStore) FindByBooking(_ context.Context, _ string) (*models.AssessmentDetail, error) {
	if m.detail == nil {
		return nil, sql.ErrNoRows
	}
	return m.detail, nil
}

func (m *mockAssessmentStore) ExistsForBooking(_ context.Context, _ string) (bool, error) {
	return m.exists, nil
}

func (m *mockAssessmentStore) Create(_ context.Context, assessment *models.Assessment) error {
	assessment.ID = "assessment-1"
	m.created = assessment
	m.detail = &models.AssessmentDetail{Assessment: *assessment, StudentID: testStudentID, BranchID: "branch-1"}
	return nil
}

func (m *mockAssessmentStore) Update(_ context.Context, assessment *models.Assessment) error {
	m.updated = assessment
	return nil
}

type mockAssessmentBookings struct {
	booking *models.BookingDetail
}

func (m *mockAssessmentBookings) FindByID(_ context.Context, _ string) (*models.BookingDetail, error) {
	if m.booking == nil {
		return nil, sql.ErrNoRows
	}
	return m.booking, nil
}

const testBookingID = "4d5e6f7a-8b9c-4d0e-8f1a-2b3c4d5e6f7a"

func completedBooking() *models.BookingDetail {
	return &models.BookingDetail{
		Booking:   models.Booking{ID: testBookingID, StudentID: testStudentID, Status: models.BookingStatusCompleted},
		BranchID:  "branch-1",
		TeacherID: "teacher-1",
	}
}

func validAssessmentRequest() RecordAssessmentRequest {
	return RecordAssessmentRequest{
		BookingID:         testBookingID,
		OverallBand:       6.5,
		FluencyBand:       6.0,
		LexicalBand:       6.5,
		GrammarBand:       7.0,
		PronunciationBand: 6.0,
		Remarks:           "Good range of vocabulary, occasional hesitation.",
	}
}

func newAssessmentFixture(store *mockAssessmentStore, bookings *mockAssessmentBookings) (*AssessmentService, *stubNotifier) {
	notifier := &stubNotifier{}
	svc := NewAssessmentService(store, bookings, notifier, &stubAudit{}, nil, zap.NewNop())
	return svc, notifier
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
}

func TestAssessmentRecordSuccess(t *testing.T) {
	store := &mockAssessmentStore{}
	svc, notifier := newAssessmentFixture(store, &mockAssessmentBookings{booking: completedBooking()})

	detail, err := svc.Record(context.Background(), teacherClaims(), validAssessmentRequest())
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.NotNil(t, store.created)
	assert.Equal(t, "teacher-1", store.created.TeacherID)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, testStudentID, notifier.sent[0].userID)
	assert.Equal(t, models.NotificationAssessmentReady, notifier.sent[0].kind)
}

func TestAssessmentRecordBandValidation(t *testing.T) {
	cases := []struct {
		name    string
		band    float64
		wantErr bool
	}{
		{name: "zero", band: 0},
		{name: "half step", band: 5.5},
		{name: "nine", band: 9},
		{name: "tenth step rejected", band: 7.3, wantErr: true},
		{name: "negative rejected", band: -1, wantErr: true},
		{name: "above nine rejected", band: 9.5, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockAssessmentStore{}
			svc, _ := newAssessmentFixture(store, &mockAssessmentBookings{booking: completedBooking()})
			req := validAssessmentRequest()
			req.OverallBand = tc.band
			_, err := svc.Record(context.Background(), teacherClaims(), req)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAssessmentRecordRequiresCompletedBooking(t *testing.T) {
	booking := completedBooking()
	booking.Status = models.BookingStatusConfirmed
	store := &mockAssessmentStore{}
	svc, _ := newAssessmentFixture(store, &mockAssessmentBookings{booking: booking})

	_, err := svc.Record(context.Background(), teacherClaims(), validAssessmentRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Nil(t, store.created)
}

func TestAssessmentRecordDuplicateRejected(t *testing.T) {
	store := &mockAssessmentStore{exists: true}
	svc, _ := newAssessmentFixture(store, &mockAssessmentBookings{booking: completedBooking()})

	_, err := svc.Record(context.Background(), teacherClaims(), validAssessmentRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAssessmentRecordWrongTeacherForbidden(t *testing.T) {
	store := &mockAssessmentStore{}
	svc, _ := newAssessmentFixture(store, &mockAssessmentBookings{booking: completedBooking()})

	claims := &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	_, err := svc.Record(context.Background(), claims, validAssessmentRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAssessmentRecordStudentForbidden(t *testing.T) {
	store := &mockAssessmentStore{}
	svc, _ := newAssessmentFixture(store, &mockAssessmentBookings{booking: completedBooking()})

	_, err := svc.Record(context.Background(), studentClaims(), validAssessmentRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAssessmentUpdateOnlyAssessingTeacher(t *testing.T) {
	store := &mockAssessmentStore{detail: &models.AssessmentDetail{
		Assessment: models.Assessment{ID: "assessment-1", TeacherID: "teacher-1", OverallBand: 6},
		StudentID:  testStudentID,
		BranchID:   "branch-1",
	}}
	svc, _ := newAssessmentFixture(store, &mockAssessmentBookings{})

	claims := &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	_, err := svc.Update(context.Background(), claims, "assessment-1", validAssessmentRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, store.updated)

	_, err = svc.Update(context.Background(), teacherClaims(), "assessment-1", validAssessmentRequest())
	require.NoError(t, err)
	require.NotNil(t, store.updated)
	assert.Equal(t, 6.5, store.updated.OverallBand)
}

func TestAssessmentUpdateClearsRemarks(t *testing.T) {
	store := &mockAssessmentStore{detail: &models.AssessmentDetail{
		Assessment: models.Assessment{ID: "assessment-1", TeacherID: "teacher-1", OverallBand: 6, Remarks: "Solid performance."},
		StudentID:  testStudentID,
		BranchID:   "branch-1",
	}}
	svc, _ := newAssessmentFixture(store, &mockAssessmentBookings{})

	req := validAssessmentRequest()
	req.Remarks = ""
	_, err := svc.Update(context.Background(), teacherClaims(), "assessment-1", req)
	require.NoError(t, err)
	require.NotNil(t, store.updated)
	assert.Empty(t, store.updated.Remarks)
}

func TestAssessmentGetOtherStudentForbidden(t *testing.T) {
	store := &mockAssessmentStore{detail: &models.AssessmentDetail{
		Assessment: models.Assessment{ID: "assessment-1", TeacherID: "teacher-1"},
		StudentID:  testStudentID,
		BranchID:   "branch-1",
	}}
	svc, _ := newAssessmentFixture(store, &mockAssessmentBookings{})

	claims := &models.JWTClaims{UserID: "other-student", Role: models.RoleStudent}
	_, err := svc.Get(context.Background(), claims, "assessment-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestValidBandSteps(t *testing.T) {
	for v := 0.0; v <= 9.0; v += 0.5 {
		assert.True(t, models.ValidBand(v), "band %v should be valid", v)
	}
	assert.False(t, models.ValidBand(7.3))
	assert.False(t, models.ValidBand(-0.5))
	assert.False(t, models.ValidBand(9.5))
}
