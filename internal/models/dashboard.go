package models

import "time"

// DashboardSummary aggregates headline numbers for a branch.
type DashboardSummary struct {
	BranchID        string         `json:"branch_id"`
	SlotsToday      int            `json:"slots_today"`
	OpenSlotsToday  int            `json:"open_slots_today"`
	BookingsByState map[string]int `json:"bookings_by_status"`
	ActiveStudents  int            `json:"active_students"`
	ActiveTeachers  int            `json:"active_teachers"`
	AverageOverall  *float64       `json:"average_overall_band,omitempty"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// DashboardBookingCount is a status bucket for the current month.
type DashboardBookingCount struct {
	Status BookingStatus `db:"status"`
	Count  int           `db:"count"`
}
