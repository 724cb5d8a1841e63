package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

// ImportRowError describes a rejected CSV row.
type ImportRowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportResult summarises a completed CSV import.
type ImportResult struct {
	Created int              `json:"created"`
	Skipped int              `json:"skipped"`
	Errors  []ImportRowError `json:"errors,omitempty"`
}

type importRow struct {
	Email    string `validate:"required,email"`
	FullName string `validate:"required,min=2,max=100"`
	Phone    string `validate:"omitempty,max=20"`
	Password string `validate:"omitempty,min=6"`
}

// ImportService loads student accounts in bulk from CSV files.
type ImportService struct {
	users     userStore
	branches  branchLookup
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	maxRows   int
}

// NewImportService constructs an ImportService.
func NewImportService(users userStore, branches branchLookup, audit auditRecorder, validate *validator.Validate, maxRows int, logger *zap.Logger) *ImportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = 500
	}
	return &ImportService{
		users:     users,
		branches:  branches,
		audit:     audit,
		validator: validate,
		logger:    logger,
		maxRows:   maxRows,
	}
}

// ImportStudents reads a CSV stream and creates student accounts row by row.
// Expected columns: email, full_name, phone, password. A header row matching
// those names is skipped. Row failures are collected, not fatal.
func (s *ImportService) ImportStudents(ctx context.Context, claims *models.JWTClaims, branchID string, r io.Reader) (*ImportResult, error) {
	switch claims.Role {
	case models.RoleSuperAdmin:
		if branchID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "branch_id is required")
		}
	case models.RoleBranchAdmin:
		branchID = claims.Branch()
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions to import students")
	}

	branch, err := s.branches.FindByID(ctx, branchID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "branch not found")
	}
	if !branch.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "branch is inactive")
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &ImportResult{}
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, ImportRowError{Row: line, Reason: "malformed CSV row"})
			result.Skipped++
			continue
		}
		if line == 1 && isHeaderRow(record) {
			line = 0
			continue
		}
		if result.Created+result.Skipped >= s.maxRows {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("import exceeds the %d row limit", s.maxRows))
		}

		row, reason := parseImportRow(record)
		if reason == "" {
			if err := s.validator.Struct(row); err != nil {
				reason = validationReason(err)
			}
		}
		if reason != "" {
			result.Errors = append(result.Errors, ImportRowError{Row: line, Reason: reason})
			result.Skipped++
			continue
		}

		taken, err := s.users.ExistsByEmail(ctx, row.Email, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
		}
		if taken {
			result.Errors = append(result.Errors, ImportRowError{Row: line, Reason: "email already registered"})
			result.Skipped++
			continue
		}

		password := row.Password
		if password == "" {
			password = defaultImportPassword(row.Email)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}

		user := &models.User{
			Email:        row.Email,
			PasswordHash: string(hash),
			FullName:     row.FullName,
			Phone:        row.Phone,
			Role:         models.RoleStudent,
			BranchID:     &branchID,
			Active:       true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			result.Errors = append(result.Errors, ImportRowError{Row: line, Reason: "failed to create account"})
			result.Skipped++
			s.logger.Sugar().Warnw("import row insert failed", "row", line, "email", row.Email, "error", err)
			continue
		}
		result.Created++
	}

	s.recordAudit(ctx, claims, branchID, result)
	return result, nil
}

func (s *ImportService) recordAudit(ctx context.Context, claims *models.JWTClaims, branchID string, result *ImportResult) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionImport,
		Resource:   "users",
		ResourceID: &branchID,
		NewValues:  marshalAuditValue(result),
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to record import audit", "error", err)
	}
}

func parseImportRow(record []string) (importRow, string) {
	if len(record) < 2 {
		return importRow{}, "expected at least email and full_name columns"
	}
	row := importRow{
		Email:    strings.ToLower(strings.TrimSpace(record[0])),
		FullName: strings.TrimSpace(record[1]),
	}
	if len(record) > 2 {
		row.Phone = strings.TrimSpace(record[2])
	}
	if len(record) > 3 {
		row.Password = strings.TrimSpace(record[3])
	}
	return row, ""
}

func isHeaderRow(record []string) bool {
	if len(record) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record[0]), "email")
}

func validationReason(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return "invalid row"
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return "invalid value for " + strings.Join(fields, ", ")
}

// defaultImportPassword derives a predictable initial password that users are
// expected to change on first login.
func defaultImportPassword(email string) string {
	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	return "Welcome_" + local
}
