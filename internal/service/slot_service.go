package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type slotStore interface {
	List(ctx context.Context, filter models.SlotFilter) ([]models.SlotDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.SlotDetail, error)
	FindTeacherOverlaps(ctx context.Context, branchID, teacherID string, date time.Time, start, end, excludeID string) ([]models.Slot, error)
	FindRoomOverlaps(ctx context.Context, roomID string, date time.Time, start, end, excludeID string) ([]models.Slot, error)
	CountActiveBookings(ctx context.Context, slotID string) (int, error)
	Create(ctx context.Context, slot *models.Slot) error
	Update(ctx context.Context, slot *models.Slot) error
	Delete(ctx context.Context, id string) error
}

type slotUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type slotRoomLookup interface {
	FindRoom(ctx context.Context, id string) (*models.Room, error)
	FindServiceType(ctx context.Context, id string) (*models.ServiceType, error)
}

type bookingRulesProvider interface {
	BookingRules(ctx context.Context) (models.BookingRules, error)
}

type slotBookingGuard interface {
	HasActiveForSlot(ctx context.Context, slotID string) (bool, error)
}

// CreateSlotRequest is the payload for creating a slot.
type CreateSlotRequest struct {
	BranchID      string `json:"branch_id" validate:"required,uuid4"`
	TeacherID     string `json:"teacher_id" validate:"required,uuid4"`
	RoomID        string `json:"room_id" validate:"omitempty,uuid4"`
	ServiceTypeID string `json:"service_type_id" validate:"omitempty,uuid4"`
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime     string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime       string `json:"end_time" validate:"required,datetime=15:04"`
	Capacity      int    `json:"capacity" validate:"required,min=1,max=50"`
	Notes         string `json:"notes" validate:"omitempty,max=500"`
}

// UpdateSlotRequest is the payload for updating a slot. Zero values leave the
// stored field unchanged.
type UpdateSlotRequest struct {
	RoomID        *string `json:"room_id" validate:"omitempty,uuid4"`
	ServiceTypeID *string `json:"service_type_id" validate:"omitempty,uuid4"`
	Date          string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime     string  `json:"start_time" validate:"omitempty,datetime=15:04"`
	EndTime       string  `json:"end_time" validate:"omitempty,datetime=15:04"`
	Capacity      *int    `json:"capacity" validate:"omitempty,min=1,max=50"`
	Status        string  `json:"status" validate:"omitempty,oneof=OPEN CLOSED"`
	Notes         *string `json:"notes" validate:"omitempty,max=500"`
}

// SlotService implements slot scheduling use cases.
type SlotService struct {
	repo      slotStore
	users     slotUserLookup
	catalog   slotRoomLookup
	bookings  slotBookingGuard
	rules     bookingRulesProvider
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// SlotServiceParams groups constructor dependencies.
type SlotServiceParams struct {
	Repo      slotStore
	Users     slotUserLookup
	Catalog   slotRoomLookup
	Bookings  slotBookingGuard
	Rules     bookingRulesProvider
	Audit     auditRecorder
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewSlotService constructs a SlotService.
func NewSlotService(p SlotServiceParams) *SlotService {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Validator == nil {
		p.Validator = validator.New()
	}
	return &SlotService{
		repo:      p.Repo,
		users:     p.Users,
		catalog:   p.Catalog,
		bookings:  p.Bookings,
		rules:     p.Rules,
		audit:     p.Audit,
		validator: p.Validator,
		logger:    p.Logger,
	}
}

// List returns slots visible to the caller. Students only see open slots and
// branch admins are scoped to their own branch.
func (s *SlotService) List(ctx context.Context, claims *models.JWTClaims, filter models.SlotFilter) ([]models.SlotDetail, *models.Pagination, error) {
	switch claims.Role {
	case models.RoleStudent:
		filter.OnlyOpen = true
	case models.RoleBranchAdmin:
		filter.BranchID = claims.Branch()
	case models.RoleTeacher:
		filter.TeacherID = claims.UserID
	}

	slots, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list slots")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return slots, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single slot with availability info.
func (s *SlotService) Get(ctx context.Context, id string) (*models.SlotDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	return detail, nil
}

// Create validates and stores a new slot.
func (s *SlotService) Create(ctx context.Context, claims *models.JWTClaims, req CreateSlotRequest) (*models.SlotDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}

	if claims.Role == models.RoleBranchAdmin && req.BranchID != claims.Branch() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot manage slots outside your branch")
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date")
	}

	if err := s.validateTimeRange(ctx, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	teacher, err := s.users.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher || !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned user is not an active teacher")
	}
	if teacher.BranchID == nil || *teacher.BranchID != req.BranchID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher does not belong to the branch")
	}

	slot := &models.Slot{
		BranchID:  req.BranchID,
		TeacherID: req.TeacherID,
		Date:      date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Capacity:  req.Capacity,
		Status:    models.SlotStatusOpen,
		Notes:     req.Notes,
	}
	if req.RoomID != "" {
		if err := s.checkRoom(ctx, req.RoomID, req.BranchID); err != nil {
			return nil, err
		}
		slot.RoomID = &req.RoomID
	}
	if req.ServiceTypeID != "" {
		if _, err := s.catalog.FindServiceType(ctx, req.ServiceTypeID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "service type not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service type")
		}
		slot.ServiceTypeID = &req.ServiceTypeID
	}

	if err := s.checkOverlaps(ctx, slot, ""); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create slot")
	}

	s.recordAudit(ctx, claims, models.AuditActionSlotCreate, slot.ID, nil, slot)
	return s.Get(ctx, slot.ID)
}

// Update applies partial changes to a slot. Capacity cannot drop below the
// number of active bookings and timing changes re-run conflict checks.
func (s *SlotService) Update(ctx context.Context, claims *models.JWTClaims, id string, req UpdateSlotRequest) (*models.SlotDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if claims.Role == models.RoleBranchAdmin && current.BranchID != claims.Branch() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot manage slots outside your branch")
	}

	updated := current.Slot
	timingChanged := false

	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date")
		}
		updated.Date = date
		timingChanged = true
	}
	if req.StartTime != "" {
		updated.StartTime = req.StartTime
		timingChanged = true
	}
	if req.EndTime != "" {
		updated.EndTime = req.EndTime
		timingChanged = true
	}
	if req.Capacity != nil {
		if *req.Capacity < current.BookedCount {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("capacity cannot be below %d active bookings", current.BookedCount))
		}
		updated.Capacity = *req.Capacity
	}
	if req.Status != "" {
		updated.Status = models.SlotStatus(req.Status)
	}
	if req.Notes != nil {
		updated.Notes = *req.Notes
	}
	if req.RoomID != nil {
		if *req.RoomID == "" {
			updated.RoomID = nil
		} else {
			if err := s.checkRoom(ctx, *req.RoomID, updated.BranchID); err != nil {
				return nil, err
			}
			updated.RoomID = req.RoomID
			timingChanged = true
		}
	}
	if req.ServiceTypeID != nil {
		if *req.ServiceTypeID == "" {
			updated.ServiceTypeID = nil
		} else {
			if _, err := s.catalog.FindServiceType(ctx, *req.ServiceTypeID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, appErrors.Clone(appErrors.ErrValidation, "service type not found")
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service type")
			}
			updated.ServiceTypeID = req.ServiceTypeID
		}
	}

	if timingChanged {
		if err := s.validateTimeRange(ctx, updated.StartTime, updated.EndTime); err != nil {
			return nil, err
		}
		if current.BookedCount > 0 {
			return nil, appErrors.Clone(appErrors.ErrConflict, "cannot reschedule a slot with active bookings")
		}
		if err := s.checkOverlaps(ctx, &updated, id); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update slot")
	}

	s.recordAudit(ctx, claims, models.AuditActionSlotUpdate, id, &current.Slot, &updated)
	return s.Get(ctx, id)
}

// Delete removes a slot without active bookings.
func (s *SlotService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if claims.Role == models.RoleBranchAdmin && current.BranchID != claims.Branch() {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot manage slots outside your branch")
	}

	hasActive, err := s.bookings.HasActiveForSlot(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slot bookings")
	}
	if hasActive {
		return appErrors.Clone(appErrors.ErrConflict, "slot has active bookings")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete slot")
	}

	s.recordAudit(ctx, claims, models.AuditActionSlotDelete, id, &current.Slot, nil)
	return nil
}

func (s *SlotService) validateTimeRange(ctx context.Context, start, end string) error {
	startMin, err := parseClockMinutes(start)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid start time")
	}
	endMin, err := parseClockMinutes(end)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid end time")
	}
	if endMin <= startMin {
		return appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}

	rules, err := s.rules.BookingRules(ctx)
	if err != nil {
		return err
	}
	duration := endMin - startMin
	if duration < rules.SlotMinDurationMinutes {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot must be at least %d minutes", rules.SlotMinDurationMinutes))
	}
	if duration > rules.SlotMaxDurationMinutes {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot must be at most %d minutes", rules.SlotMaxDurationMinutes))
	}
	return nil
}

func (s *SlotService) checkRoom(ctx context.Context, roomID, branchID string) error {
	room, err := s.catalog.FindRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "room not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	if room.BranchID != branchID {
		return appErrors.Clone(appErrors.ErrValidation, "room does not belong to the branch")
	}
	if !room.Active {
		return appErrors.Clone(appErrors.ErrValidation, "room is inactive")
	}
	return nil
}

func (s *SlotService) checkOverlaps(ctx context.Context, slot *models.Slot, excludeID string) error {
	conflicts, err := s.repo.FindTeacherOverlaps(ctx, slot.BranchID, slot.TeacherID, slot.Date, slot.StartTime, slot.EndTime, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check teacher conflicts")
	}
	if len(conflicts) > 0 {
		return appErrors.Clone(appErrors.ErrSlotConflict, "teacher already has a slot in this time range")
	}

	if slot.RoomID != nil {
		conflicts, err = s.repo.FindRoomOverlaps(ctx, *slot.RoomID, slot.Date, slot.StartTime, slot.EndTime, excludeID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check room conflicts")
		}
		if len(conflicts) > 0 {
			return appErrors.Clone(appErrors.ErrSlotConflict, "room is occupied in this time range")
		}
	}
	return nil
}

func (s *SlotService) recordAudit(ctx context.Context, claims *models.JWTClaims, action, slotID string, old, updated *models.Slot) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "slots",
		ResourceID: &slotID,
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
		s.logger.Warn("failed to record slot audit log", zap.Error(err))
	}
}

func parseClockMinutes(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
