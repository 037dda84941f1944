// Package batch models course batches (cohorts) and their rosters.
package batch

import (
	"slices"
	"time"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
)

// DefaultMaxStudents is the capacity given to batches created without one.
const DefaultMaxStudents = 30

// Batch is a cohort of students attached to one course and one teacher.
// EnrolledStudents keeps enrollment order and never holds a student twice.
type Batch struct {
	types.Entity
	ID               id.BatchID     `json:"id"`
	Name             string         `json:"batch_name" validate:"notblank"`
	CourseID         id.CourseID    `json:"course_id" validate:"required"`
	TeacherID        id.TeacherID   `json:"teacher_id"`
	Schedule         string         `json:"schedule,omitempty"`
	StartDate        time.Time      `json:"start_date"`
	EndDate          time.Time      `json:"end_date"`
	MaxStudents      int            `json:"max_students" validate:"gte=1"`
	EnrolledStudents []id.StudentID `json:"enrolled_students"`
	Status           Status         `json:"status" validate:"oneof=upcoming ongoing completed"`
}

// Has reports whether the student is on the roster.
func (b *Batch) Has(studentID id.StudentID) bool {
	return slices.Contains(b.EnrolledStudents, studentID)
}

// IsFull reports whether the roster has reached capacity.
func (b *Batch) IsFull() bool {
	return len(b.EnrolledStudents) >= b.MaxStudents
}

// SeatsLeft returns the number of open seats, never negative.
func (b *Batch) SeatsLeft() int {
	return max(0, b.MaxStudents-len(b.EnrolledStudents))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusOngoing, StatusCompleted:
		return true
	}
	return false
}
