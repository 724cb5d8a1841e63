package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/speaklab/booking-api/internal/models"
)

func rbacRouter(claims *models.JWTClaims, guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
	})
	router.POST("/branches", guard, func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	router.GET("/users/:id", guard, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRBACDeniesTeacherOnAdminRoute(t *testing.T) {
	claims := &models.JWTClaims{UserID: "t-1", Role: models.RoleTeacher}
	router := rbacRouter(claims, RequireRoles(models.RoleSuperAdmin))

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/branches", nil)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRBACAllowsListedRole(t *testing.T) {
	claims := &models.JWTClaims{UserID: "a-1", Role: models.RoleSuperAdmin}
	router := rbacRouter(claims, RequireRoles(models.RoleSuperAdmin))

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/branches", nil)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRBACSelfMatchesRouteParam(t *testing.T) {
	claims := &models.JWTClaims{UserID: "s-1", Role: models.RoleStudent}
	guard := RBAC(string(models.RoleSuperAdmin), "SELF")
	router := rbacRouter(claims, guard)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/s-1", nil)
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("own record should be readable, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/users/s-2", nil)
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("foreign record should be forbidden, got %d", recorder.Code)
	}
}

func TestRBACMissingClaims(t *testing.T) {
	router := rbacRouter(nil, AdminOnly())

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/branches", nil)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}
