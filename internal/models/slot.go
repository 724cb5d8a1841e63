package models

import "time"

// SlotStatus gates whether a slot accepts new bookings.
type SlotStatus string

const (
	SlotStatusOpen   SlotStatus = "OPEN"
	SlotStatusClosed SlotStatus = "CLOSED"
)

// Slot is a bookable time interval taught by one teacher at one branch.
// StartTime and EndTime are wall-clock values in HH:MM, Date is the calendar
// day in the branch's local time.
type Slot struct {
	ID            string     `db:"id" json:"id"`
	BranchID      string     `db:"branch_id" json:"branch_id"`
	TeacherID     string     `db:"teacher_id" json:"teacher_id"`
	RoomID        *string    `db:"room_id" json:"room_id,omitempty"`
	ServiceTypeID *string    `db:"service_type_id" json:"service_type_id,omitempty"`
	Date          time.Time  `db:"date" json:"date"`
	StartTime     string     `db:"start_time" json:"start_time"`
	EndTime       string     `db:"end_time" json:"end_time"`
	Capacity      int        `db:"capacity" json:"capacity"`
	Status        SlotStatus `db:"status" json:"status"`
	Notes         string     `db:"notes" json:"notes"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// SlotDetail joins display and availability fields onto a slot.
type SlotDetail struct {
	Slot
	TeacherName    string  `db:"teacher_name" json:"teacher_name"`
	BranchName     string  `db:"branch_name" json:"branch_name"`
	RoomName       *string `db:"room_name" json:"room_name,omitempty"`
	ServiceName    *string `db:"service_name" json:"service_name,omitempty"`
	BookedCount    int     `db:"booked_count" json:"booked_count"`
	AvailableSpots int     `db:"available_spots" json:"available_spots"`
}

// SlotFilter captures list criteria for slots.
type SlotFilter struct {
	BranchID  string
	TeacherID string
	Status    *SlotStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	OnlyOpen  bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StartsAt combines the slot date and start time into a point in time.
func (s *Slot) StartsAt() time.Time {
	h, m := splitClock(s.StartTime)
	return time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(), h, m, 0, 0, s.Date.Location())
}

func splitClock(clock string) (int, int) {
	if len(clock) < 5 {
		return 0, 0
	}
	h := int(clock[0]-'0')*10 + int(clock[1]-'0')
	m := int(clock[3]-'0')*10 + int(clock[4]-'0')
	return h, m
}
