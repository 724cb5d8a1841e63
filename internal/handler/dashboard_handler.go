package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/speaklab/booking-api/internal/service"
	"github.com/speaklab/booking-api/pkg/response"
)

// DashboardHandler serves per-branch operational summaries.
type DashboardHandler struct {
	dashboards *service.DashboardService
}

// NewDashboardHandler constructs DashboardHandler.
func NewDashboardHandler(dashboards *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboards: dashboards}
}

// Summary godoc
// @Summary Branch dashboard summary
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param branchId query string false "Branch ID (super admin only)"
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	summary, err := h.dashboards.Summary(c.Request.Context(), claimsFromContext(c), c.Query("branchId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
