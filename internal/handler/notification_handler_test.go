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

type fakeNotificationStore struct {
	items      []models.Notification
	unread     int
	lastFilter models.NotificationFilter
	markedID   string
	markedAll  bool
}

func (f *fakeNotificationStore) List(_ context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	f.lastFilter = filter
	return f.items, len(f.items), nil
}

func (f *fakeNotificationStore) CountUnread(context.Context, string) (int, error) {
	return f.unread, nil
}

func (f *fakeNotificationStore) Create(context.Context, *models.Notification) error { return nil }

func (f *fakeNotificationStore) MarkRead(_ context.Context, id, _ string) (int64, error) {
	f.markedID = id
	return 1, nil
}

func (f *fakeNotificationStore) MarkAllRead(context.Context, string) error {
	f.markedAll = true
	return nil
}

func (f *fakeNotificationStore) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func notificationTestContext(t *testing.T, method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})
	return c, rec
}

func TestNotificationHandlerListScopesToCaller(t *testing.T) {
	store := &fakeNotificationStore{items: []models.Notification{{ID: "n-1", UserID: "user-1", Title: "Booking confirmed"}}}
	h := NewNotificationHandler(service.NewNotificationService(store, nil))

	c, rec := notificationTestContext(t, http.MethodGet, "/notifications?unread=true&page=2&limit=10")
	h.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", store.lastFilter.UserID)
	assert.True(t, store.lastFilter.UnreadOnly)
	assert.Equal(t, 2, store.lastFilter.Page)
	assert.Equal(t, 10, store.lastFilter.PageSize)
}

func TestNotificationHandlerUnreadCount(t *testing.T) {
	store := &fakeNotificationStore{unread: 3}
	h := NewNotificationHandler(service.NewNotificationService(store, nil))

	c, rec := notificationTestContext(t, http.MethodGet, "/notifications/unread-count")
	h.UnreadCount(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data map[string]interface{} `json:"data"`
	}
	err := json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.NoError(t, err)
	assert.Equal(t, float64(3), envelope.Data["unread"])
}

func TestNotificationHandlerMarkRead(t *testing.T) {
	store := &fakeNotificationStore{}
	h := NewNotificationHandler(service.NewNotificationService(store, nil))

	c, rec := notificationTestContext(t, http.MethodPost, "/notifications/n-1/read")
	c.Params = gin.Params{{Key: "id", Value: "n-1"}}
	h.MarkRead(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "n-1", store.markedID)
}

func TestNotificationHandlerMarkAllRead(t *testing.T) {
	store := &fakeNotificationStore{}
	h := NewNotificationHandler(service.NewNotificationService(store, nil))

	c, rec := notificationTestContext(t, http.MethodPost, "/notifications/read-all")
	h.MarkAllRead(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, store.markedAll)
}
