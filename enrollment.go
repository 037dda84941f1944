package bursar

import (
	"context"
	"errors"
	"strings"

	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// ──────────────────────────────────────────────────
// Batches
// ──────────────────────────────────────────────────

// CreateBatch stores a new batch with an empty roster. MaxStudents
// defaults to batch.DefaultMaxStudents and Status to upcoming.
func (b *Bursar) CreateBatch(ctx context.Context, bt *batch.Batch) error {
	if bt.ID.IsNil() {
		bt.ID = id.NewBatchID()
	}
	if bt.MaxStudents == 0 {
		bt.MaxStudents = batch.DefaultMaxStudents
	}
	if bt.Status == "" {
		bt.Status = batch.StatusUpcoming
	}
	if err := b.check(bt); err != nil {
		return err
	}
	bt.EnrolledStudents = []id.StudentID{}
	bt.Entity = types.EntityAt(b.now())

	if err := b.store.CreateBatch(ctx, bt); err != nil {
		return err
	}

	b.logger.Info("batch created",
		"batch_id", bt.ID.String(),
		"course_id", bt.CourseID.String(),
		"max_students", bt.MaxStudents,
	)
	return nil
}

// GetBatch retrieves a batch with its roster.
func (b *Bursar) GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	return b.store.GetBatch(ctx, batchID)
}

// ListBatches lists batches filtered by opts.
func (b *Bursar) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	return b.store.ListBatches(ctx, opts)
}

// UpdateBatchStatus moves a batch between upcoming, ongoing and completed.
func (b *Bursar) UpdateBatchStatus(ctx context.Context, batchID id.BatchID, status batch.Status) error {
	if !status.Valid() {
		return ValidationError{Field: "status", Message: "must be one of: upcoming ongoing completed"}
	}
	return b.store.UpdateBatchStatus(ctx, batchID, status)
}

// ──────────────────────────────────────────────────
// Students
// ──────────────────────────────────────────────────

// RegisterStudent stores a student identity. Emails are unique,
// case-insensitively.
func (b *Bursar) RegisterStudent(ctx context.Context, s *student.Student) error {
	s.Email = normalizeEmail(s.Email)
	s.Name = strings.TrimSpace(s.Name)
	if err := b.check(s); err != nil {
		return err
	}
	if s.ID.IsNil() {
		s.ID = id.NewStudentID()
	}
	s.Entity = types.EntityAt(b.now())
	return b.store.CreateStudent(ctx, s)
}

// GetStudent retrieves a student identity.
func (b *Bursar) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	return b.store.GetStudent(ctx, studentID)
}

// GetStudentByEmail retrieves a student identity by email.
func (b *Bursar) GetStudentByEmail(ctx context.Context, email string) (*student.Student, error) {
	return b.store.GetStudentByEmail(ctx, normalizeEmail(email))
}

// GetProfile retrieves a student's enrollment profile.
func (b *Bursar) GetProfile(ctx context.Context, studentID id.StudentID) (*student.Profile, error) {
	return b.store.GetProfile(ctx, studentID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ──────────────────────────────────────────────────
// Enrollment
// ──────────────────────────────────────────────────

// enrollment is what a committed roster add changed, kept so the whole
// enrollment can be undone if a later step fails.
type enrollment struct {
	batch         *batch.Batch
	profile       *student.Profile
	previousBatch id.BatchID
	courseAdded   bool
}

// Enroll adds the student to the batch roster, points the student's
// profile at the batch and records the batch's course. The profile is
// created if the student has none.
//
// The roster add is one conditional write, so concurrent enrollments can
// never overfill a batch. It fails with ErrCapacityExceeded when the batch
// is full and ErrAlreadyEnrolled when the student is on the roster, checked
// in that order. If the profile update fails the roster add is reverted.
func (b *Bursar) Enroll(ctx context.Context, batchID id.BatchID, studentID id.StudentID) (*student.Profile, error) {
	e, err := b.enroll(ctx, batchID, studentID)
	if err != nil {
		return nil, err
	}
	return e.profile, nil
}

func (b *Bursar) enroll(ctx context.Context, batchID id.BatchID, studentID id.StudentID) (*enrollment, error) {
	bt, err := b.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if _, err := b.store.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}

	e := &enrollment{batch: bt}
	prev, err := b.store.GetProfile(ctx, studentID)
	switch {
	case err == nil:
		e.previousBatch = prev.BatchID
		e.courseAdded = !prev.HasCourse(bt.CourseID)
	case errors.Is(err, ErrProfileNotFound):
		e.courseAdded = true
	default:
		return nil, err
	}

	err = b.retry(ctx, "add_to_roster", func() error {
		return b.store.AddToRoster(ctx, batchID, studentID)
	})
	if err != nil {
		if IsEnrollmentRejected(err) {
			b.logger.Info("enrollment rejected",
				"batch_id", batchID.String(),
				"student_id", studentID.String(),
				"reason", err,
			)
			b.plugins.EmitEnrollmentRejected(ctx, batchID, studentID, err)
		}
		return nil, err
	}

	err = b.retry(ctx, "assign_batch", func() error {
		template, err := b.newProfile(studentID)
		if err != nil {
			return err
		}
		e.profile, err = b.store.AssignBatch(ctx, template, batchID, bt.CourseID)
		return err
	})
	if err != nil {
		b.revertRoster(ctx, batchID, studentID)
		return nil, err
	}
	bt.EnrolledStudents = append(bt.EnrolledStudents, studentID)

	b.logger.Info("student enrolled",
		"batch_id", batchID.String(),
		"student_id", studentID.String(),
		"enrollment_number", e.profile.EnrollmentNumber,
	)
	b.plugins.EmitStudentEnrolled(ctx, bt, e.profile)
	return e, nil
}

func (b *Bursar) newProfile(studentID id.StudentID) (*student.Profile, error) {
	now := b.now()
	number, err := b.enrollmentNumber(now)
	if err != nil {
		return nil, err
	}
	return &student.Profile{
		Entity:           types.EntityAt(now),
		ID:               id.NewProfileID(),
		StudentID:        studentID,
		EnrollmentNumber: number,
		EnrolledCourses:  []id.CourseID{},
		Status:           student.StatusActive,
	}, nil
}

// revertRoster undoes a committed roster add. Its failure is logged; the
// caller still reports the original error.
func (b *Bursar) revertRoster(ctx context.Context, batchID id.BatchID, studentID id.StudentID) {
	b.logger.Warn("reverting roster add",
		"batch_id", batchID.String(),
		"student_id", studentID.String(),
	)
	if err := b.store.RemoveFromRoster(ctx, batchID, studentID); err != nil {
		b.logger.Error("roster revert failed",
			"batch_id", batchID.String(),
			"student_id", studentID.String(),
			"error", err,
		)
	}
}

// undoEnroll reverts a complete enrollment: roster and profile.
func (b *Bursar) undoEnroll(ctx context.Context, e *enrollment) {
	studentID := e.profile.StudentID
	b.revertRoster(ctx, e.batch.ID, studentID)

	drop := id.Nil
	if e.courseAdded {
		drop = e.batch.CourseID
	}
	if err := b.store.UndoAssign(ctx, studentID, e.previousBatch, drop); err != nil {
		b.logger.Error("profile revert failed",
			"batch_id", e.batch.ID.String(),
			"student_id", studentID.String(),
			"error", err,
		)
	}
}

// RemoveStudent takes the student off the batch roster and clears the
// profile's batch reference if it still points at this batch. Removing a
// student who is not on the roster succeeds. Enrolled courses and fee
// structures are kept.
func (b *Bursar) RemoveStudent(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error {
	if err := b.store.RemoveFromRoster(ctx, batchID, studentID); err != nil {
		return err
	}
	if err := b.store.ClearBatch(ctx, studentID, batchID); err != nil && !errors.Is(err, ErrProfileNotFound) {
		return err
	}

	b.logger.Info("student removed",
		"batch_id", batchID.String(),
		"student_id", studentID.String(),
	)
	b.plugins.EmitStudentRemoved(ctx, batchID, studentID)
	return nil
}

// ──────────────────────────────────────────────────
// Enrollment with fee
// ──────────────────────────────────────────────────

// EnrollInput describes a single enrollment that may carry a fee.
type EnrollInput struct {
	BatchID      id.BatchID   `json:"batch_id" validate:"required"`
	StudentID    id.StudentID `json:"student_id" validate:"required"`
	TotalFee     types.Money  `json:"total_fee" validate:"gte=0"`
	Discount     types.Money  `json:"discount" validate:"gte=0"`
	Installments int          `json:"installments" validate:"gte=0,max=120"` // 0 uses the configured default
}

// EnrollResult is the outcome of EnrollWithFee. FeeStructure is nil when
// no fee was charged.
type EnrollResult struct {
	Profile      *student.Profile `json:"profile"`
	FeeStructure *fee.Structure   `json:"fee_structure,omitempty"`
}

// EnrollWithFee enrolls the student and, when TotalFee is positive,
// creates the fee structure for the enrollment. If the structure cannot be
// created the enrollment is undone and the error returned.
func (b *Bursar) EnrollWithFee(ctx context.Context, in EnrollInput) (*EnrollResult, error) {
	in.TotalFee = b.inCurrency(in.TotalFee)
	in.Discount = b.inCurrency(in.Discount)
	if err := b.check(in); err != nil {
		return nil, err
	}
	count := in.Installments
	if count == 0 {
		count = b.defaultInstallments
	}
	if in.TotalFee.IsPositive() {
		if err := b.checkFeeTerms(in.TotalFee, in.Discount, count); err != nil {
			return nil, err
		}
	}

	e, err := b.enroll(ctx, in.BatchID, in.StudentID)
	if err != nil {
		return nil, err
	}
	res := &EnrollResult{Profile: e.profile}
	if !in.TotalFee.IsPositive() {
		return res, nil
	}

	res.FeeStructure, err = b.CreateStructure(ctx, CreateStructureInput{
		StudentID:    in.StudentID,
		CourseID:     e.batch.CourseID,
		BatchID:      in.BatchID,
		TotalFee:     in.TotalFee,
		Discount:     in.Discount,
		Installments: count,
	})
	if err != nil {
		b.undoEnroll(ctx, e)
		return nil, err
	}
	return res, nil
}
