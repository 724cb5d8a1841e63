package models

import "time"

// Setting keys for booking business rules. Values are stored as strings and
// parsed by the settings service.
const (
	SettingMonthlyBookingLimit     = "monthly_booking_limit"
	SettingCancellationCutoffHours = "cancellation_cutoff_hours"
	SettingSlotMinDurationMinutes  = "slot_min_duration_minutes"
	SettingSlotMaxDurationMinutes  = "slot_max_duration_minutes"
)

// SystemSetting is a single key/value configuration row.
type SystemSetting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BookingRules aggregates the parsed business-rule settings used by booking
// and slot validation.
type BookingRules struct {
	MonthlyLimit            int `json:"monthly_limit"`
	CancellationCutoffHours int `json:"cancellation_cutoff_hours"`
	SlotMinDurationMinutes  int `json:"slot_min_duration_minutes"`
	SlotMaxDurationMinutes  int `json:"slot_max_duration_minutes"`
}
