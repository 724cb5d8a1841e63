package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/speaklab/booking-api/internal/middleware"
	"github.com/speaklab/booking-api/internal/models"
	"github.com/speaklab/booking-api/internal/service"
)

type fakeDashboardStore struct {
	total    int
	open     int
	counts   []models.DashboardBookingCount
	students int
	teachers int
	avg      *float64
}

func (f *fakeDashboardStore) CountSlotsOnDate(context.Context, string, time.Time) (int, int, error) {
	return f.total, f.open, nil
}

func (f *fakeDashboardStore) CountBookingsByStatus(context.Context, string, time.Time, time.Time) ([]models.DashboardBookingCount, error) {
	return f.counts, nil
}

func (f *fakeDashboardStore) CountActiveUsersByRole(_ context.Context, _ string, role models.UserRole) (int, error) {
	if role == models.RoleStudent {
		return f.students, nil
	}
	return f.teachers, nil
}

func (f *fakeDashboardStore) AverageOverallBand(context.Context, string, time.Time, time.Time) (*float64, error) {
	return f.avg, nil
}

type fakeBranchLookup struct{}

func (fakeBranchLookup) FindByID(_ context.Context, id string) (*models.Branch, error) {
	return &models.Branch{ID: id, Active: true}, nil
}

func newDashboardTestHandler(store *fakeDashboardStore) *DashboardHandler {
	svc := service.NewDashboardService(store, fakeBranchLookup{}, nil, time.Minute, nil)
	return NewDashboardHandler(svc)
}

func TestDashboardHandlerSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	avg := 6.5
	h := newDashboardTestHandler(&fakeDashboardStore{
		total:    4,
		open:     2,
		counts:   []models.DashboardBookingCount{{Status: models.BookingStatusConfirmed, Count: 7}},
		students: 40,
		teachers: 5,
		avg:      &avg,
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/dashboard?branchId=branch-1", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleSuperAdmin})

	h.Summary(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data models.DashboardSummary `json:"data"`
	}
	err := json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.NoError(t, err)
	assert.Equal(t, "branch-1", envelope.Data.BranchID)
	assert.Equal(t, 4, envelope.Data.SlotsToday)
	assert.Equal(t, 2, envelope.Data.OpenSlotsToday)
	assert.Equal(t, 7, envelope.Data.BookingsByState[string(models.BookingStatusConfirmed)])
	assert.Equal(t, 0, envelope.Data.BookingsByState[string(models.BookingStatusNoShow)])
	assert.Equal(t, 40, envelope.Data.ActiveStudents)
	if assert.NotNil(t, envelope.Data.AverageOverall) {
		assert.InDelta(t, 6.5, *envelope.Data.AverageOverall, 0.001)
	}
}

func TestDashboardHandlerSummaryRequiresBranchForSuperAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newDashboardTestHandler(&fakeDashboardStore{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleSuperAdmin})

	h.Summary(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardHandlerSummaryStudentForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newDashboardTestHandler(&fakeDashboardStore{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})

	h.Summary(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
