package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type dashboardStore interface {
	CountSlotsOnDate(ctx context.Context, branchID string, date time.Time) (total, open int, err error)
	CountBookingsByStatus(ctx context.Context, branchID string, monthStart, monthEnd time.Time) ([]models.DashboardBookingCount, error)
	CountActiveUsersByRole(ctx context.Context, branchID string, role models.UserRole) (int, error)
	AverageOverallBand(ctx context.Context, branchID string, monthStart, monthEnd time.Time) (*float64, error)
}

// DashboardService assembles cached branch summaries.
type DashboardService struct {
	repo     dashboardStore
	branches branchLookup
	cache    *CacheService
	logger   *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(repo dashboardStore, branches branchLookup, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &DashboardService{
		repo:     repo,
		branches: branches,
		cache:    cache,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Summary returns the branch dashboard. Branch admins and teachers are scoped
// to their own branch; super admins pick any branch.
func (s *DashboardService) Summary(ctx context.Context, claims *models.JWTClaims, branchID string) (*models.DashboardSummary, error) {
	switch claims.Role {
	case models.RoleSuperAdmin:
		if branchID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "branch_id is required")
		}
	case models.RoleBranchAdmin, models.RoleTeacher:
		branchID = claims.Branch()
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions to view dashboards")
	}
	if branchID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "account is not assigned to a branch")
	}

	cacheKey := fmt.Sprintf("dashboard:branch:%s", branchID)
	if s.cache.Enabled() {
		var cached models.DashboardSummary
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	if _, err := s.branches.FindByID(ctx, branchID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "branch not found")
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	total, open, err := s.repo.CountSlotsOnDate(ctx, branchID, today)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count slots")
	}
	counts, err := s.repo.CountBookingsByStatus(ctx, branchID, monthStart, monthEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count bookings")
	}
	students, err := s.repo.CountActiveUsersByRole(ctx, branchID, models.RoleStudent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
	}
	teachers, err := s.repo.CountActiveUsersByRole(ctx, branchID, models.RoleTeacher)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count teachers")
	}
	avg, err := s.repo.AverageOverallBand(ctx, branchID, monthStart, monthEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to average bands")
	}

	byStatus := map[string]int{
		string(models.BookingStatusConfirmed): 0,
		string(models.BookingStatusCancelled): 0,
		string(models.BookingStatusCompleted): 0,
		string(models.BookingStatusNoShow):    0,
	}
	for _, c := range counts {
		byStatus[string(c.Status)] = c.Count
	}

	summary := &models.DashboardSummary{
		BranchID:        branchID,
		SlotsToday:      total,
		OpenSlotsToday:  open,
		BookingsByState: byStatus,
		ActiveStudents:  students,
		ActiveTeachers:  teachers,
		AverageOverall:  avg,
		GeneratedAt:     now,
	}

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cacheKey, summary, s.cacheTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache dashboard summary", "branch_id", branchID, "error", err)
		}
	}
	return summary, nil
}
