package models

import "time"

// BookingStatus describes the lifecycle of a booking.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusNoShow    BookingStatus = "NO_SHOW"
)

// ActiveBookingStatuses are the statuses that consume slot capacity and count
// against the monthly limit.
var ActiveBookingStatuses = []BookingStatus{BookingStatusConfirmed, BookingStatusCompleted}

// Booking is a student's reservation of a slot.
type Booking struct {
	ID          string        `db:"id" json:"id"`
	SlotID      string        `db:"slot_id" json:"slot_id"`
	StudentID   string        `db:"student_id" json:"student_id"`
	Status      BookingStatus `db:"status" json:"status"`
	Notes       string        `db:"notes" json:"notes"`
	CancelledAt *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedBy   string        `db:"created_by" json:"created_by"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// BookingDetail joins slot and participant context onto a booking.
type BookingDetail struct {
	Booking
	SlotDate    time.Time `db:"slot_date" json:"slot_date"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
	BranchID    string    `db:"branch_id" json:"branch_id"`
	BranchName  string    `db:"branch_name" json:"branch_name"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	TeacherName string    `db:"teacher_name" json:"teacher_name"`
	StudentName string    `db:"student_name" json:"student_name"`
}

// BookingUsage reports a student's booking consumption for one calendar month.
type BookingUsage struct {
	StudentID string `json:"student_id"`
	Month     string `json:"month"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// BookingFilter captures list criteria for bookings.
type BookingFilter struct {
	StudentID string
	TeacherID string
	BranchID  string
	SlotID    string
	Status    *BookingStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
