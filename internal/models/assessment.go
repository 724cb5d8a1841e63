package models

import "time"

// Assessment records the IELTS speaking result for a completed booking.
// All band fields are on the 0–9 scale in half-band increments.
type Assessment struct {
	ID                string    `db:"id" json:"id"`
	BookingID         string    `db:"booking_id" json:"booking_id"`
	TeacherID         string    `db:"teacher_id" json:"teacher_id"`
	OverallBand       float64   `db:"overall_band" json:"overall_band"`
	FluencyBand       float64   `db:"fluency_band" json:"fluency_band"`
	LexicalBand       float64   `db:"lexical_band" json:"lexical_band"`
	GrammarBand       float64   `db:"grammar_band" json:"grammar_band"`
	PronunciationBand float64   `db:"pronunciation_band" json:"pronunciation_band"`
	Remarks           string    `db:"remarks" json:"remarks"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// AssessmentDetail joins booking and participant context onto an assessment.
type AssessmentDetail struct {
	Assessment
	StudentID   string    `db:"student_id" json:"student_id"`
	StudentName string    `db:"student_name" json:"student_name"`
	TeacherName string    `db:"teacher_name" json:"teacher_name"`
	BranchID    string    `db:"branch_id" json:"branch_id"`
	SlotDate    time.Time `db:"slot_date" json:"slot_date"`
}

// AssessmentFilter captures list criteria for assessments.
type AssessmentFilter struct {
	StudentID string
	TeacherID string
	BranchID  string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// ValidBand reports whether v is within 0–9 in steps of 0.5.
func ValidBand(v float64) bool {
	if v < 0 || v > 9 {
		return false
	}
	doubled := v * 2
	return doubled == float64(int64(doubled))
}
