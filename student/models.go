// Package student models student identities and their enrollment profiles.
package student

import (
	"slices"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// Student is the identity shown next to fee and roster records.
type Student struct {
	types.Entity
	ID    id.StudentID `json:"id"`
	Name  string       `json:"name" validate:"notblank"`
	Email string       `json:"email" validate:"required,email"`
	Phone string       `json:"phone,omitempty" validate:"omitempty,max=20"`
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Profile is the enrollment side of a student. BatchID is Nil while the
// student is not in any batch. EnrolledCourses only grows.
type Profile struct {
	types.Entity
	ID               id.ProfileID  `json:"id"`
	StudentID        id.StudentID  `json:"user_id"`
	EnrollmentNumber string        `json:"enrollment_number"`
	BatchID          id.BatchID    `json:"batch_id"`
	EnrolledCourses  []id.CourseID `json:"enrolled_courses"`
	Status           Status        `json:"status"`
}

// InBatch reports whether the profile currently points at a batch.
func (p *Profile) InBatch() bool { return !p.BatchID.IsNil() }

// HasCourse reports whether the course is in the enrolled-courses set.
func (p *Profile) HasCourse(courseID id.CourseID) bool {
	return slices.Contains(p.EnrolledCourses, courseID)
}

// AddCourse adds the course unless present or Nil. It reports whether the
// set changed.
func (p *Profile) AddCourse(courseID id.CourseID) bool {
	if courseID.IsNil() || p.HasCourse(courseID) {
		return false
	}
	p.EnrolledCourses = append(p.EnrolledCourses, courseID)
	return true
}
