package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/speaklab/booking-api/internal/service"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
	"github.com/speaklab/booking-api/pkg/response"
)

// CatalogHandler exposes service type and room endpoints.
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListServiceTypes godoc
// @Summary List service types
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param active query bool false "Only active types"
// @Success 200 {object} response.Envelope
// @Router /service-types [get]
func (h *CatalogHandler) ListServiceTypes(c *gin.Context) {
	types, err := h.catalog.ListServiceTypes(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, types, nil)
}

// CreateServiceType godoc
// @Summary Create service type
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.ServiceTypeRequest true "Service type payload"
// @Success 201 {object} response.Envelope
// @Router /service-types [post]
func (h *CatalogHandler) CreateServiceType(c *gin.Context) {
	var req service.ServiceTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	st, err := h.catalog.CreateServiceType(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, st)
}

// UpdateServiceType godoc
// @Summary Update service type
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Service type ID"
// @Param payload body service.ServiceTypeRequest true "Service type payload"
// @Success 200 {object} response.Envelope
// @Router /service-types/{id} [put]
func (h *CatalogHandler) UpdateServiceType(c *gin.Context) {
	var req service.ServiceTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	st, err := h.catalog.UpdateServiceType(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, st, nil)
}

// ListRooms godoc
// @Summary List rooms
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param branchId query string false "Filter by branch"
// @Param active query bool false "Only active rooms"
// @Success 200 {object} response.Envelope
// @Router /rooms [get]
func (h *CatalogHandler) ListRooms(c *gin.Context) {
	rooms, err := h.catalog.ListRooms(c.Request.Context(), claimsFromContext(c), c.Query("branchId"), c.Query("active") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rooms, nil)
}

// CreateRoom godoc
// @Summary Create room
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.RoomRequest true "Room payload"
// @Success 201 {object} response.Envelope
// @Router /rooms [post]
func (h *CatalogHandler) CreateRoom(c *gin.Context) {
	var req service.RoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	room, err := h.catalog.CreateRoom(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, room)
}

// UpdateRoom godoc
// @Summary Update room
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param payload body service.RoomRequest true "Room payload"
// @Success 200 {object} response.Envelope
// @Router /rooms/{id} [put]
func (h *CatalogHandler) UpdateRoom(c *gin.Context) {
	var req service.RoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	room, err := h.catalog.UpdateRoom(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, room, nil)
}
