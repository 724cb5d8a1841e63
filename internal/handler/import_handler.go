package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/speaklab/booking-api/internal/service"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
	"github.com/speaklab/booking-api/pkg/response"
)

// maxImportUpload caps CSV uploads at 5 MiB.
const maxImportUpload = 5 << 20

// ImportHandler accepts bulk student CSV uploads.
type ImportHandler struct {
	imports *service.ImportService
}

// NewImportHandler constructs ImportHandler.
func NewImportHandler(imports *service.ImportService) *ImportHandler {
	return &ImportHandler{imports: imports}
}

// ImportStudents godoc
// @Summary Bulk-create student accounts from a CSV file
// @Tags Import
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param branchId formData string false "Target branch (super admin only)"
// @Param file formData file true "CSV file with email,full_name,phone,password columns"
// @Success 200 {object} response.Envelope
// @Router /imports/students [post]
func (h *ImportHandler) ImportStudents(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportUpload)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.ErrValidation)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.ErrValidation)
		return
	}
	defer file.Close()

	result, err := h.imports.ImportStudents(c.Request.Context(), claimsFromContext(c), c.PostForm("branchId"), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
