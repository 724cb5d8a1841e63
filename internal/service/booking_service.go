package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type bookingStore interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	LockSlot(ctx context.Context, tx *sqlx.Tx, slotID string) (*models.Slot, error)
	CountActiveForSlot(ctx context.Context, tx *sqlx.Tx, slotID string) (int, error)
	CountStudentMonth(ctx context.Context, tx *sqlx.Tx, studentID string, monthStart, monthEnd time.Time) (int, error)
	ExistsActiveForSlot(ctx context.Context, tx *sqlx.Tx, studentID, slotID string) (bool, error)
	CountStudentUsage(ctx context.Context, studentID string, monthStart, monthEnd time.Time) (int, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error
	FindByID(ctx context.Context, id string) (*models.BookingDetail, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error)
	UpdateStatus(ctx context.Context, id string, status models.BookingStatus, cancelledAt *time.Time) error
}

type bookingUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type notifier interface {
	Notify(ctx context.Context, userID string, kind models.NotificationType, title, body string)
}

// CreateBookingRequest is the payload for booking a slot. StudentID is only
// honoured for admin callers, students always book for themselves.
type CreateBookingRequest struct {
	SlotID    string `json:"slot_id" validate:"required,uuid4"`
	StudentID string `json:"student_id" validate:"omitempty,uuid4"`
	Notes     string `json:"notes" validate:"omitempty,max=500"`
}

// BookingService implements the booking lifecycle. The create path runs
// inside a transaction with the slot row locked so capacity and monthly
// limit checks cannot race concurrent requests.
type BookingService struct {
	repo          bookingStore
	users         bookingUserLookup
	rules         bookingRulesProvider
	notifications notifier
	audit         auditRecorder
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	now           func() time.Time
}

// BookingServiceParams groups constructor dependencies.
type BookingServiceParams struct {
	Repo          bookingStore
	Users         bookingUserLookup
	Rules         bookingRulesProvider
	Notifications notifier
	Audit         auditRecorder
	Metrics       *MetricsService
	Validator     *validator.Validate
	Logger        *zap.Logger
	Now           func() time.Time
}

// NewBookingService constructs a BookingService.
func NewBookingService(p BookingServiceParams) *BookingService {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Validator == nil {
		p.Validator = validator.New()
	}
	if p.Now == nil {
		p.Now = func() time.Time { return time.Now().UTC() }
	}
	return &BookingService{
		repo:          p.Repo,
		users:         p.Users,
		rules:         p.Rules,
		notifications: p.Notifications,
		audit:         p.Audit,
		metrics:       p.Metrics,
		validator:     p.Validator,
		logger:        p.Logger,
		now:           p.Now,
	}
}

// Create books a slot for a student.
func (s *BookingService) Create(ctx context.Context, claims *models.JWTClaims, req CreateBookingRequest) (*models.BookingDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	studentID := claims.UserID
	switch claims.Role {
	case models.RoleStudent:
		if req.StudentID != "" && req.StudentID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only book for themselves")
		}
	case models.RoleSuperAdmin, models.RoleBranchAdmin:
		if req.StudentID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
		}
		studentID = req.StudentID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot create bookings")
	}

	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent || !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bookings can only be made for active students")
	}

	rules, err := s.rules.BookingRules(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start booking")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	slot, err := s.repo.LockSlot(ctx, tx, req.SlotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock slot")
	}

	if claims.Role == models.RoleBranchAdmin && slot.BranchID != claims.Branch() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot book slots outside your branch")
	}
	if slot.Status != models.SlotStatusOpen {
		return nil, appErrors.Clone(appErrors.ErrSlotClosed, "slot is not open for booking")
	}
	if !slot.StartsAt().After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrSlotClosed, "slot has already started")
	}

	duplicate, err := s.repo.ExistsActiveForSlot(ctx, tx, studentID, req.SlotID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing booking")
	}
	if duplicate {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already booked this slot")
	}

	active, err := s.repo.CountActiveForSlot(ctx, tx, req.SlotID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count bookings")
	}
	if active >= slot.Capacity {
		s.metrics.RecordBooking("capacity_rejected")
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "slot has no available spots")
	}

	if rules.MonthlyLimit > 0 {
		monthStart := time.Date(slot.Date.Year(), slot.Date.Month(), 1, 0, 0, 0, 0, time.UTC)
		monthEnd := monthStart.AddDate(0, 1, 0)
		monthCount, err := s.repo.CountStudentMonth(ctx, tx, studentID, monthStart, monthEnd)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count monthly bookings")
		}
		if monthCount >= rules.MonthlyLimit {
			s.metrics.RecordBooking("limit_rejected")
			return nil, appErrors.Clone(appErrors.ErrMonthlyLimit, fmt.Sprintf("monthly limit of %d bookings reached", rules.MonthlyLimit))
		}
	}

	booking := &models.Booking{
		SlotID:    req.SlotID,
		StudentID: studentID,
		Status:    models.BookingStatusConfirmed,
		Notes:     req.Notes,
		CreatedBy: claims.UserID,
	}
	if err := s.repo.CreateTx(ctx, tx, booking); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking")
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking")
	}

	s.metrics.RecordBooking("created")
	s.recordAudit(ctx, claims, models.AuditActionBookingCreate, booking.ID, nil, booking)

	detail, err := s.repo.FindByID(ctx, booking.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}

	if s.notifications != nil {
		when := fmt.Sprintf("%s %s", detail.SlotDate.Format("2006-01-02"), detail.StartTime)
		s.notifications.Notify(ctx, studentID, models.NotificationBookingConfirmed,
			"Booking confirmed",
			fmt.Sprintf("Your speaking session at %s on %s is confirmed.", detail.BranchName, when))
		s.notifications.Notify(ctx, detail.TeacherID, models.NotificationBookingConfirmed,
			"New booking",
			fmt.Sprintf("%s booked your session on %s.", detail.StudentName, when))
	}

	return detail, nil
}

// Cancel cancels a booking. Students cancel their own bookings subject to
// the cancellation cutoff, admins can cancel at any time, teachers cannot
// cancel.
func (s *BookingService) Cancel(ctx context.Context, claims *models.JWTClaims, id string) (*models.BookingDetail, error) {
	detail, err := s.loadForActor(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	if detail.Status != models.BookingStatusConfirmed {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot cancel a %s booking", detail.Status))
	}

	switch claims.Role {
	case models.RoleStudent:
		if detail.StudentID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot cancel another student's booking")
		}
		rules, err := s.rules.BookingRules(ctx)
		if err != nil {
			return nil, err
		}
		slot := models.Slot{Date: detail.SlotDate, StartTime: detail.StartTime}
		cutoff := slot.StartsAt().Add(-time.Duration(rules.CancellationCutoffHours) * time.Hour)
		if !s.now().Before(cutoff) {
			return nil, appErrors.Clone(appErrors.ErrCancellationWindow,
				fmt.Sprintf("bookings must be cancelled at least %d hours before the slot", rules.CancellationCutoffHours))
		}
	case models.RoleSuperAdmin, models.RoleBranchAdmin:
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot cancel bookings")
	}

	cancelledAt := s.now()
	if err := s.repo.UpdateStatus(ctx, id, models.BookingStatusCancelled, &cancelledAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel booking")
	}

	s.metrics.RecordBooking("cancelled")
	s.recordAudit(ctx, claims, models.AuditActionBookingCancel, id, &detail.Booking, nil)

	if s.notifications != nil {
		when := fmt.Sprintf("%s %s", detail.SlotDate.Format("2006-01-02"), detail.StartTime)
		s.notifications.Notify(ctx, detail.StudentID, models.NotificationBookingCancelled,
			"Booking cancelled",
			fmt.Sprintf("Your session on %s was cancelled.", when))
		s.notifications.Notify(ctx, detail.TeacherID, models.NotificationBookingCancelled,
			"Booking cancelled",
			fmt.Sprintf("%s cancelled the session on %s.", detail.StudentName, when))
	}

	return s.repo.FindByID(ctx, id)
}

// Complete marks an attended booking as completed. Only the slot's teacher
// or an admin may do this, and only once the slot has started.
func (s *BookingService) Complete(ctx context.Context, claims *models.JWTClaims, id string) (*models.BookingDetail, error) {
	return s.finish(ctx, claims, id, models.BookingStatusCompleted)
}

// MarkNoShow marks a booking where the student did not attend.
func (s *BookingService) MarkNoShow(ctx context.Context, claims *models.JWTClaims, id string) (*models.BookingDetail, error) {
	return s.finish(ctx, claims, id, models.BookingStatusNoShow)
}

func (s *BookingService) finish(ctx context.Context, claims *models.JWTClaims, id string, status models.BookingStatus) (*models.BookingDetail, error) {
	detail, err := s.loadForActor(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	switch claims.Role {
	case models.RoleTeacher:
		if detail.TeacherID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not the teacher for this booking")
		}
	case models.RoleSuperAdmin, models.RoleBranchAdmin:
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot update booking status")
	}

	if detail.Status != models.BookingStatusConfirmed {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot mark a %s booking as %s", detail.Status, status))
	}

	slot := models.Slot{Date: detail.SlotDate, StartTime: detail.StartTime}
	if s.now().Before(slot.StartsAt()) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "slot has not started yet")
	}

	if err := s.repo.UpdateStatus(ctx, id, status, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update booking")
	}

	s.recordAudit(ctx, claims, models.AuditActionBookingStatus, id, &detail.Booking, nil)

	if status == models.BookingStatusCompleted && s.notifications != nil {
		s.notifications.Notify(ctx, detail.StudentID, models.NotificationBookingCompleted,
			"Session completed",
			"Your speaking session was marked as completed. Your assessment will follow.")
	}

	return s.repo.FindByID(ctx, id)
}

// Get returns a single booking visible to the caller.
func (s *BookingService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.BookingDetail, error) {
	detail, err := s.loadForActor(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	if claims.Role == models.RoleStudent && detail.StudentID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's booking")
	}
	if claims.Role == models.RoleTeacher && detail.TeacherID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another teacher's booking")
	}
	return detail, nil
}

// List returns bookings scoped to the caller's role.
func (s *BookingService) List(ctx context.Context, claims *models.JWTClaims, filter models.BookingFilter) ([]models.BookingDetail, *models.Pagination, error) {
	switch claims.Role {
	case models.RoleStudent:
		filter.StudentID = claims.UserID
	case models.RoleTeacher:
		filter.TeacherID = claims.UserID
	case models.RoleBranchAdmin:
		filter.BranchID = claims.Branch()
	}

	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return bookings, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// MonthlyUsage reports how much of the monthly booking limit the student has
// consumed in the current calendar month.
func (s *BookingService) MonthlyUsage(ctx context.Context, claims *models.JWTClaims, studentID string) (*models.BookingUsage, error) {
	if claims.Role == models.RoleStudent && studentID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's usage")
	}
	if claims.Role == models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot view booking usage")
	}

	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "usage is only tracked for students")
	}
	if claims.Role == models.RoleBranchAdmin {
		if student.BranchID == nil || *student.BranchID != claims.Branch() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "student belongs to another branch")
		}
	}

	rules, err := s.rules.BookingRules(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	used, err := s.repo.CountStudentUsage(ctx, studentID, monthStart, monthEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count bookings")
	}

	remaining := rules.MonthlyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return &models.BookingUsage{
		StudentID: studentID,
		Month:     monthStart.Format("2006-01"),
		Used:      used,
		Limit:     rules.MonthlyLimit,
		Remaining: remaining,
	}, nil
}

func (s *BookingService) loadForActor(ctx context.Context, claims *models.JWTClaims, id string) (*models.BookingDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	if claims.Role == models.RoleBranchAdmin && detail.BranchID != claims.Branch() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "booking belongs to another branch")
	}
	return detail, nil
}

func (s *BookingService) recordAudit(ctx context.Context, claims *models.JWTClaims, action, bookingID string, old, updated *models.Booking) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "bookings",
		ResourceID: &bookingID,
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
		s.logger.Warn("failed to record booking audit log", zap.Error(err))
	}
}
