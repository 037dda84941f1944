package student

import (
	"context"

	"github.com/xraph/bursar/id"
)

// Store persists students and profiles.
//
// AssignBatch points the profile at batchID and adds courseID to the
// enrolled-courses set, creating the profile from template when the student
// has none. ClearBatch nulls the batch reference only while it still equals
// batchID. UndoAssign reverts an AssignBatch whose enrollment could not be
// completed: it restores previousBatch (Nil clears it) and, when dropCourse
// is not Nil, removes that course from the set again.
type Store interface {
	CreateStudent(ctx context.Context, s *Student) error
	GetStudent(ctx context.Context, studentID id.StudentID) (*Student, error)
	GetStudentByEmail(ctx context.Context, email string) (*Student, error)

	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, studentID id.StudentID) (*Profile, error)
	AssignBatch(ctx context.Context, template *Profile, batchID id.BatchID, courseID id.CourseID) (*Profile, error)
	ClearBatch(ctx context.Context, studentID id.StudentID, batchID id.BatchID) error
	UndoAssign(ctx context.Context, studentID id.StudentID, previousBatch id.BatchID, dropCourse id.CourseID) error
}
