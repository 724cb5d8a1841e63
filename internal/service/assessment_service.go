package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type assessmentStore interface {
	List(ctx context.Context, filter models.AssessmentFilter) ([]models.AssessmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.AssessmentDetail, error)
	FindByBooking(ctx context.Context, bookingID string) (*models.AssessmentDetail, error)
	ExistsForBooking(ctx context.Context, bookingID string) (bool, error)
	Create(ctx context.Context, assessment *models.Assessment) error
	Update(ctx context.Context, assessment *models.Assessment) error
}

type assessmentBookingLookup interface {
	FindByID(ctx context.Context, id string) (*models.BookingDetail, error)
}

// RecordAssessmentRequest is the payload for recording an IELTS result.
type RecordAssessmentRequest struct {
	BookingID         string  `json:"booking_id" validate:"required,uuid4"`
	OverallBand       float64 `json:"overall_band"`
	FluencyBand       float64 `json:"fluency_band"`
	LexicalBand       float64 `json:"lexical_band"`
	GrammarBand       float64 `json:"grammar_band"`
	PronunciationBand float64 `json:"pronunciation_band"`
	Remarks           string  `json:"remarks" validate:"omitempty,max=2000"`
}

// AssessmentService manages IELTS speaking assessments.
type AssessmentService struct {
	repo          assessmentStore
	bookings      assessmentBookingLookup
	notifications notifier
	audit         auditRecorder
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewAssessmentService constructs an AssessmentService.
func NewAssessmentService(repo assessmentStore, bookings assessmentBookingLookup, notifications notifier, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *AssessmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AssessmentService{
		repo:          repo,
		bookings:      bookings,
		notifications: notifications,
		audit:         audit,
		validator:     validate,
		logger:        logger,
	}
}

// Record stores an assessment for a completed booking. Exactly one
// assessment may exist per booking.
func (s *AssessmentService) Record(ctx context.Context, claims *models.JWTClaims, req RecordAssessmentRequest) (*models.AssessmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}
	if err := validateBands(req); err != nil {
		return nil, err
	}

	booking, err := s.loadBooking(ctx, claims, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "assessments require a completed booking")
	}

	exists, err := s.repo.ExistsForBooking(ctx, req.BookingID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check assessment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "booking already has an assessment")
	}

	assessment := &models.Assessment{
		BookingID:         req.BookingID,
		TeacherID:         booking.TeacherID,
		OverallBand:       req.OverallBand,
		FluencyBand:       req.FluencyBand,
		LexicalBand:       req.LexicalBand,
		GrammarBand:       req.GrammarBand,
		PronunciationBand: req.PronunciationBand,
		Remarks:           req.Remarks,
	}
	if err := s.repo.Create(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save assessment")
	}

	s.recordAudit(ctx, claims, assessment.ID, nil, assessment)

	if s.notifications != nil {
		s.notifications.Notify(ctx, booking.StudentID, models.NotificationAssessmentReady,
			"Assessment ready",
			fmt.Sprintf("Your speaking assessment is ready: overall band %.1f.", req.OverallBand))
	}

	return s.repo.FindByID(ctx, assessment.ID)
}

// Update revises an existing assessment's bands or remarks.
func (s *AssessmentService) Update(ctx context.Context, claims *models.JWTClaims, id string, req RecordAssessmentRequest) (*models.AssessmentDetail, error) {
	if err := validateBands(req); err != nil {
		return nil, err
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}

	switch claims.Role {
	case models.RoleTeacher:
		if current.TeacherID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not the assessing teacher")
		}
	case models.RoleSuperAdmin:
	case models.RoleBranchAdmin:
		if current.BranchID != claims.Branch() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "assessment belongs to another branch")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot update assessments")
	}

	updated := current.Assessment
	updated.OverallBand = req.OverallBand
	updated.FluencyBand = req.FluencyBand
	updated.LexicalBand = req.LexicalBand
	updated.GrammarBand = req.GrammarBand
	updated.PronunciationBand = req.PronunciationBand
	// Full replace, same as the bands: an empty remarks field clears them.
	updated.Remarks = req.Remarks

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assessment")
	}

	s.recordAudit(ctx, claims, id, &current.Assessment, &updated)
	return s.repo.FindByID(ctx, id)
}

// Get returns a single assessment visible to the caller.
func (s *AssessmentService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.AssessmentDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	if err := s.authorizeRead(claims, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// GetByBooking returns the assessment attached to a booking.
func (s *AssessmentService) GetByBooking(ctx context.Context, claims *models.JWTClaims, bookingID string) (*models.AssessmentDetail, error) {
	detail, err := s.repo.FindByBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	if err := s.authorizeRead(claims, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns assessments scoped to the caller's role.
func (s *AssessmentService) List(ctx context.Context, claims *models.JWTClaims, filter models.AssessmentFilter) ([]models.AssessmentDetail, *models.Pagination, error) {
	switch claims.Role {
	case models.RoleStudent:
		filter.StudentID = claims.UserID
	case models.RoleTeacher:
		filter.TeacherID = claims.UserID
	case models.RoleBranchAdmin:
		filter.BranchID = claims.Branch()
	}

	assessments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assessments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return assessments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *AssessmentService) loadBooking(ctx context.Context, claims *models.JWTClaims, bookingID string) (*models.BookingDetail, error) {
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}

	switch claims.Role {
	case models.RoleTeacher:
		if booking.TeacherID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not the teacher for this booking")
		}
	case models.RoleSuperAdmin:
	case models.RoleBranchAdmin:
		if booking.BranchID != claims.Branch() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "booking belongs to another branch")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot record assessments")
	}
	return booking, nil
}

func (s *AssessmentService) authorizeRead(claims *models.JWTClaims, detail *models.AssessmentDetail) error {
	switch claims.Role {
	case models.RoleStudent:
		if detail.StudentID != claims.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's assessment")
		}
	case models.RoleTeacher:
		if detail.TeacherID != claims.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "cannot view another teacher's assessment")
		}
	case models.RoleBranchAdmin:
		if detail.BranchID != claims.Branch() {
			return appErrors.Clone(appErrors.ErrForbidden, "assessment belongs to another branch")
		}
	}
	return nil
}

func (s *AssessmentService) recordAudit(ctx context.Context, claims *models.JWTClaims, id string, old, updated *models.Assessment) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     models.AuditActionAssessment,
		Resource:   "assessments",
		ResourceID: &id,
	}
	if claims != nil {
		log.UserID = &claims.UserID
	}
	if old != nil {
		log.OldValues = marshalAuditValue(old)
	}
	if updated != nil {
		log.NewValues = marshalAuditValue(updated)
	}
	if err := s.audit.Create(ctx, log); err != nil {
		s.logger.Warn("failed to record assessment audit log", zap.Error(err))
	}
}

func validateBands(req RecordAssessmentRequest) error {
	bands := map[string]float64{
		"overall_band":       req.OverallBand,
		"fluency_band":       req.FluencyBand,
		"lexical_band":       req.LexicalBand,
		"grammar_band":       req.GrammarBand,
		"pronunciation_band": req.PronunciationBand,
	}
	for name, value := range bands {
		if !models.ValidBand(value) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be between 0 and 9 in 0.5 steps", name))
		}
	}
	return nil
}
