package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

const bookingRulesCacheKey = "settings:booking_rules"

type settingsStore interface {
	GetAll(ctx context.Context) ([]models.SystemSetting, error)
	Get(ctx context.Context, key string) (*models.SystemSetting, error)
	Upsert(ctx context.Context, key, value string, updatedBy *string) error
}

// SettingsService resolves business-rule settings. Values come from the
// system_settings table, cached in Redis, with configured defaults as
// fallback when a key has never been written.
type SettingsService struct {
	repo     settingsStore
	audit    auditRecorder
	cache    *CacheService
	logger   *zap.Logger
	defaults models.BookingRules
	cacheTTL time.Duration
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(repo settingsStore, audit auditRecorder, cache *CacheService, logger *zap.Logger, defaults models.BookingRules) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{
		repo:     repo,
		audit:    audit,
		cache:    cache,
		logger:   logger,
		defaults: defaults,
		cacheTTL: 5 * time.Minute,
	}
}

// BookingRules returns the effective business rules.
func (s *SettingsService) BookingRules(ctx context.Context) (models.BookingRules, error) {
	var cached models.BookingRules
	if hit, err := s.cache.Get(ctx, bookingRulesCacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	rules := s.defaults
	settings, err := s.repo.GetAll(ctx)
	if err != nil {
		return rules, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load settings")
	}
	for _, setting := range settings {
		applySetting(&rules, setting.Key, setting.Value)
	}

	if err := s.cache.Set(ctx, bookingRulesCacheKey, rules, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache booking rules", zap.Error(err))
	}
	return rules, nil
}

// List returns every stored setting plus effective values for unset keys.
func (s *SettingsService) List(ctx context.Context) ([]models.SystemSetting, error) {
	stored, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load settings")
	}

	present := make(map[string]bool, len(stored))
	for _, setting := range stored {
		present[setting.Key] = true
	}
	for key, value := range s.defaultValues() {
		if !present[key] {
			stored = append(stored, models.SystemSetting{Key: key, Value: value})
		}
	}
	return stored, nil
}

// Update writes a single setting and invalidates the rules cache.
func (s *SettingsService) Update(ctx context.Context, key, value, actorID string) (*models.SystemSetting, error) {
	if !knownSettingKey(key) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown setting %q", key))
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "setting value must be a non-negative integer")
	}

	var old string
	if existing, err := s.repo.Get(ctx, key); err == nil {
		old = existing.Value
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting")
	}

	updatedBy := &actorID
	if actorID == "" {
		updatedBy = nil
	}
	if err := s.repo.Upsert(ctx, key, value, updatedBy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save setting")
	}

	if err := s.cache.Invalidate(ctx, bookingRulesCacheKey); err != nil {
		s.logger.Warn("failed to invalidate booking rules cache", zap.Error(err))
	}

	if s.audit != nil {
		keyCopy := key
		log := &models.AuditLog{
			Action:     models.AuditActionSettingsUpdate,
			Resource:   "settings",
			ResourceID: &keyCopy,
			OldValues:  []byte(fmt.Sprintf(`{"value":%q}`, old)),
			NewValues:  []byte(fmt.Sprintf(`{"value":%q}`, value)),
		}
		if actorID != "" {
			log.UserID = &actorID
		}
		if err := s.audit.Create(ctx, log); err != nil {
			s.logger.Warn("failed to record settings audit log", zap.Error(err))
		}
	}

	return &models.SystemSetting{Key: key, Value: value, UpdatedBy: updatedBy, UpdatedAt: time.Now().UTC()}, nil
}

func (s *SettingsService) defaultValues() map[string]string {
	return map[string]string{
		models.SettingMonthlyBookingLimit:     strconv.Itoa(s.defaults.MonthlyLimit),
		models.SettingCancellationCutoffHours: strconv.Itoa(s.defaults.CancellationCutoffHours),
		models.SettingSlotMinDurationMinutes:  strconv.Itoa(s.defaults.SlotMinDurationMinutes),
		models.SettingSlotMaxDurationMinutes:  strconv.Itoa(s.defaults.SlotMaxDurationMinutes),
	}
}

func knownSettingKey(key string) bool {
	switch key {
	case models.SettingMonthlyBookingLimit,
		models.SettingCancellationCutoffHours,
		models.SettingSlotMinDurationMinutes,
		models.SettingSlotMaxDurationMinutes:
		return true
	}
	return false
}

func applySetting(rules *models.BookingRules, key, value string) {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return
	}
	switch key {
	case models.SettingMonthlyBookingLimit:
		rules.MonthlyLimit = parsed
	case models.SettingCancellationCutoffHours:
		rules.CancellationCutoffHours = parsed
	case models.SettingSlotMinDurationMinutes:
		rules.SlotMinDurationMinutes = parsed
	case models.SettingSlotMaxDurationMinutes:
		rules.SlotMaxDurationMinutes = parsed
	}
}
