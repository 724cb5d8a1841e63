package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type mockSettingsStore struct {
	settings []models.SystemSetting
	getAlls  int
	upserted map[string]string
}

func (m *mockSettingsStore) GetAll(_ context.Context) ([]models.SystemSetting, error) {
	m.getAlls++
	return m.settings, nil
}

func (m *mockSettingsStore) Get(_ context.Context, key string) (*models.SystemSetting, error) {
	for _, setting := range m.settings {
		if setting.Key == key {
			return &setting, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSettingsStore) Upsert(_ context.Context, key, value string, _ *string) error {
	if m.upserted == nil {
		m.upserted = make(map[string]string)
	}
	m.upserted[key] = value
	return nil
}

type stubCacheRepo struct {
	store map[string][]byte
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	delete(s.store, pattern)
	return nil
}

func settingsDefaults() models.BookingRules {
	return models.BookingRules{
		MonthlyLimit:            8,
		CancellationCutoffHours: 12,
		SlotMinDurationMinutes:  30,
		SlotMaxDurationMinutes:  180,
	}
}

func newSettingsFixture(store *mockSettingsStore) (*SettingsService, *stubCacheRepo) {
	cacheRepo := &stubCacheRepo{}
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewSettingsService(store, &stubAudit{}, cacheSvc, zap.NewNop(), settingsDefaults())
	return svc, cacheRepo
}

func TestBookingRulesFallsBackToDefaults(t *testing.T) {
	store := &mockSettingsStore{}
	svc, _ := newSettingsFixture(store)

	rules, err := svc.BookingRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settingsDefaults(), rules)
}

func TestBookingRulesStoredValuesOverrideDefaults(t *testing.T) {
	store := &mockSettingsStore{settings: []models.SystemSetting{
		{Key: models.SettingMonthlyBookingLimit, Value: "4"},
		{Key: models.SettingSlotMaxDurationMinutes, Value: "90"},
	}}
	svc, _ := newSettingsFixture(store)

	rules, err := svc.BookingRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, rules.MonthlyLimit)
	assert.Equal(t, 90, rules.SlotMaxDurationMinutes)
	assert.Equal(t, 12, rules.CancellationCutoffHours)
}

func TestBookingRulesCachedOnSecondRead(t *testing.T) {
	store := &mockSettingsStore{}
	svc, cacheRepo := newSettingsFixture(store)

	_, err := svc.BookingRules(context.Background())
	require.NoError(t, err)
	assert.Contains(t, cacheRepo.store, bookingRulesCacheKey)

	_, err = svc.BookingRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.getAlls)
}

func TestBookingRulesIgnoresMalformedValues(t *testing.T) {
	store := &mockSettingsStore{settings: []models.SystemSetting{
		{Key: models.SettingMonthlyBookingLimit, Value: "not-a-number"},
		{Key: models.SettingCancellationCutoffHours, Value: "-3"},
	}}
	svc, _ := newSettingsFixture(store)

	rules, err := svc.BookingRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, rules.MonthlyLimit)
	assert.Equal(t, 12, rules.CancellationCutoffHours)
}

func TestSettingsUpdateInvalidatesCache(t *testing.T) {
	store := &mockSettingsStore{}
	svc, cacheRepo := newSettingsFixture(store)

	_, err := svc.BookingRules(context.Background())
	require.NoError(t, err)
	assert.Contains(t, cacheRepo.store, bookingRulesCacheKey)

	setting, err := svc.Update(context.Background(), models.SettingMonthlyBookingLimit, "6", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "6", setting.Value)
	assert.Equal(t, "6", store.upserted[models.SettingMonthlyBookingLimit])
	assert.NotContains(t, cacheRepo.store, bookingRulesCacheKey)
}

func TestSettingsUpdateRejectsUnknownKey(t *testing.T) {
	store := &mockSettingsStore{}
	svc, _ := newSettingsFixture(store)

	_, err := svc.Update(context.Background(), "nonsense_key", "6", "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSettingsUpdateRejectsNonNumericValue(t *testing.T) {
	store := &mockSettingsStore{}
	svc, _ := newSettingsFixture(store)

	_, err := svc.Update(context.Background(), models.SettingMonthlyBookingLimit, "many", "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSettingsListIncludesDefaultsForUnsetKeys(t *testing.T) {
	store := &mockSettingsStore{settings: []models.SystemSetting{
		{Key: models.SettingMonthlyBookingLimit, Value: "4"},
	}}
	svc, _ := newSettingsFixture(store)

	settings, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, settings, 4)
	byKey := make(map[string]string, len(settings))
	for _, setting := range settings {
		byKey[setting.Key] = setting.Value
	}
	assert.Equal(t, "4", byKey[models.SettingMonthlyBookingLimit])
	assert.Equal(t, "12", byKey[models.SettingCancellationCutoffHours])
}
