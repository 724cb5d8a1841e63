package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type catalogStore interface {
	ListServiceTypes(ctx context.Context, activeOnly bool) ([]models.ServiceType, error)
	FindServiceType(ctx context.Context, id string) (*models.ServiceType, error)
	CreateServiceType(ctx context.Context, st *models.ServiceType) error
	UpdateServiceType(ctx context.Context, st *models.ServiceType) error
	ListRooms(ctx context.Context, branchID string, activeOnly bool) ([]models.Room, error)
	FindRoom(ctx context.Context, id string) (*models.Room, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	UpdateRoom(ctx context.Context, room *models.Room) error
}

// ServiceTypeRequest is the payload for creating or updating a service type.
type ServiceTypeRequest struct {
	Name            string `json:"name" validate:"required,min=2,max=100"`
	Description     string `json:"description" validate:"omitempty,max=500"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=5,max=480"`
	Active          *bool  `json:"active"`
}

// RoomRequest is the payload for creating or updating a room.
type RoomRequest struct {
	BranchID string `json:"branch_id" validate:"required,uuid4"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Capacity int    `json:"capacity" validate:"required,min=1,max=100"`
	Active   *bool  `json:"active"`
}

// CatalogService manages service types and rooms.
type CatalogService struct {
	repo      catalogStore
	branches  branchLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(repo catalogStore, branches branchLookup, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CatalogService{repo: repo, branches: branches, validator: validate, logger: logger}
}

// ListServiceTypes returns the service catalogue.
func (s *CatalogService) ListServiceTypes(ctx context.Context, activeOnly bool) ([]models.ServiceType, error) {
	types, err := s.repo.ListServiceTypes(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list service types")
	}
	return types, nil
}

// CreateServiceType adds an entry to the service catalogue.
func (s *CatalogService) CreateServiceType(ctx context.Context, req ServiceTypeRequest) (*models.ServiceType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid service type payload")
	}
	st := &models.ServiceType{
		Name:            req.Name,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Active:          true,
	}
	if req.Active != nil {
		st.Active = *req.Active
	}
	if err := s.repo.CreateServiceType(ctx, st); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create service type")
	}
	return st, nil
}

// UpdateServiceType modifies a catalogue entry.
func (s *CatalogService) UpdateServiceType(ctx context.Context, id string, req ServiceTypeRequest) (*models.ServiceType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid service type payload")
	}
	st, err := s.repo.FindServiceType(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "service type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service type")
	}
	st.Name = req.Name
	st.Description = req.Description
	st.DurationMinutes = req.DurationMinutes
	if req.Active != nil {
		st.Active = *req.Active
	}
	if err := s.repo.UpdateServiceType(ctx, st); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update service type")
	}
	return st, nil
}

// ListRooms returns rooms, optionally scoped to a branch.
func (s *CatalogService) ListRooms(ctx context.Context, claims *models.JWTClaims, branchID string, activeOnly bool) ([]models.Room, error) {
	if claims.Role == models.RoleBranchAdmin {
		branchID = claims.Branch()
	}
	rooms, err := s.repo.ListRooms(ctx, branchID, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rooms")
	}
	return rooms, nil
}

// CreateRoom adds a room to a branch.
func (s *CatalogService) CreateRoom(ctx context.Context, claims *models.JWTClaims, req RoomRequest) (*models.Room, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid room payload")
	}
	if claims.Role == models.RoleBranchAdmin && req.BranchID != claims.Branch() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot manage rooms outside your branch")
	}
	if _, err := s.branches.FindByID(ctx, req.BranchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "branch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load branch")
	}

	room := &models.Room{
		BranchID: req.BranchID,
		Name:     req.Name,
		Capacity: req.Capacity,
		Active:   true,
	}
	if req.Active != nil {
		room.Active = *req.Active
	}
	if err := s.repo.CreateRoom(ctx, room); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create room")
	}
	return room, nil
}

// UpdateRoom modifies a room.
func (s *CatalogService) UpdateRoom(ctx context.Context, claims *models.JWTClaims, id string, req RoomRequest) (*models.Room, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid room payload")
	}
	room, err := s.repo.FindRoom(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	if claims.Role == models.RoleBranchAdmin && room.BranchID != claims.Branch() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot manage rooms outside your branch")
	}

	room.Name = req.Name
	room.Capacity = req.Capacity
	if req.Active != nil {
		room.Active = *req.Active
	}
	if err := s.repo.UpdateRoom(ctx, room); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update room")
	}
	return room, nil
}
