package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type userStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.UserDetail, int, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
}

type branchLookup interface {
	FindByID(ctx context.Context, id string) (*models.Branch, error)
}

// CreateUserRequest is the payload for creating a user account.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required,min=2,max=100"`
	Phone    string `json:"phone" validate:"omitempty,max=20"`
	Role     string `json:"role" validate:"required,oneof=SUPER_ADMIN BRANCH_ADMIN TEACHER STUDENT"`
	BranchID string `json:"branch_id" validate:"omitempty,uuid4"`
}

// UpdateUserRequest is the payload for updating a user account.
type UpdateUserRequest struct {
	Email    string  `json:"email" validate:"omitempty,email"`
	FullName string  `json:"full_name" validate:"omitempty,min=2,max=100"`
	Phone    *string `json:"phone" validate:"omitempty,max=20"`
	Role     string  `json:"role" validate:"omitempty,oneof=SUPER_ADMIN BRANCH_ADMIN TEACHER STUDENT"`
	BranchID *string `json:"branch_id" validate:"omitempty,uuid4"`
	Active   *bool   `json:"active"`
}

// UserService implements account management use cases.
type UserService struct {
	repo      userStore
	branches  branchLookup
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(repo userStore, branches branchLookup, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, branches: branches, audit: audit, validator: validate, logger: logger}
}

// List returns users visible to the caller. Branch admins only see users of
// their own branch.
func (s *UserService) List(ctx context.Context, claims *models.JWTClaims, filter models.UserFilter) ([]models.UserDetail, *models.Pagination, error) {
	if claims.Role == models.RoleBranchAdmin {
		filter.BranchID = claims.Branch()
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single user visible to the caller.
func (s *UserService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if claims.Role == models.RoleBranchAdmin && (user.BranchID == nil || *user.BranchID != claims.Branch()) && user.ID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "user belongs to another branch")
	}
	return user, nil
}

// Create registers a new account. Branch admins may only create teachers and
// students within their own branch.
func (s *UserService) Create(ctx context.Context, claims *models.JWTClaims, req CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	role := models.UserRole(req.Role)

	if claims.Role == models.RoleBranchAdmin {
		if role != models.RoleTeacher && role != models.RoleStudent {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "branch admins can only create teachers and students")
		}
		if req.BranchID != claims.Branch() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot create users outside your branch")
		}
	}

	if role != models.RoleSuperAdmin {
		if req.BranchID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "branch_id is required for this role")
		}
		if _, err := s.branches.FindByID(ctx, req.BranchID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "branch not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load branch")
		}
	}

	taken, err := s.repo.ExistsByEmail(ctx, req.Email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Phone:        req.Phone,
		Role:         role,
		Active:       true,
	}
	if req.BranchID != "" {
		user.BranchID = &req.BranchID
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.recordAudit(ctx, claims, models.AuditActionUserCreate, user.ID, nil, user)
	return user, nil
}

// Update applies partial changes to an account.
func (s *UserService) Update(ctx context.Context, claims *models.JWTClaims, id string, req UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	current, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	if claims.Role == models.RoleBranchAdmin {
		if current.Role == models.RoleSuperAdmin || current.Role == models.RoleBranchAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot modify admin accounts")
		}
		if req.Role != "" && req.Role != string(current.Role) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "branch admins cannot change roles")
		}
		if req.BranchID != nil && *req.BranchID != claims.Branch() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot move users to another branch")
		}
	}

	updated := *current
	if req.Email != "" && req.Email != current.Email {
		taken, err := s.repo.ExistsByEmail(ctx, req.Email, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
		}
		updated.Email = req.Email
	}
	if req.FullName != "" {
		updated.FullName = req.FullName
	}
	if req.Phone != nil {
		updated.Phone = *req.Phone
	}
	if req.Role != "" {
		updated.Role = models.UserRole(req.Role)
	}
	if req.BranchID != nil {
		if *req.BranchID == "" {
			updated.BranchID = nil
		} else {
			if _, err := s.branches.FindByID(ctx, *req.BranchID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, appErrors.Clone(appErrors.ErrValidation, "branch not found")
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load branch")
			}
			updated.BranchID = req.BranchID
		}
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	if !updated.Active && current.Active {
		if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
			s.logger.Warn("failed to revoke tokens for deactivated user", zap.Error(err))
		}
	}

	s.recordAudit(ctx, claims, models.AuditActionUserUpdate, id, current, &updated)
	return &updated, nil
}

// Deactivate soft-deletes an account and revokes its sessions.
func (s *UserService) Deactivate(ctx context.Context, claims *models.JWTClaims, id string) error {
	current, err := s.Get(ctx, claims, id)
	if err != nil {
		return err
	}
	if id == claims.UserID {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}
	if claims.Role == models.RoleBranchAdmin && (current.Role == models.RoleSuperAdmin || current.Role == models.RoleBranchAdmin) {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot deactivate admin accounts")
	}

	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
		s.logger.Warn("failed to revoke tokens for deactivated user", zap.Error(err))
	}

	s.recordAudit(ctx, claims, models.AuditActionUserDelete, id, current, nil)
	return nil
}

func (s *UserService) recordAudit(ctx context.Context, claims *models.JWTClaims, action, userID string, old, updated *models.User) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "users",
		ResourceID: &userID,
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
		s.logger.Warn("failed to record user audit log", zap.Error(err))
	}
}
