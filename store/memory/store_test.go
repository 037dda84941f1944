package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

func newBatch(capacity int) *batch.Batch {
	return &batch.Batch{
		Entity:      types.NewEntity(),
		ID:          id.NewBatchID(),
		Name:        "Morning N5",
		CourseID:    id.NewCourseID(),
		MaxStudents: capacity,
		Status:      batch.StatusUpcoming,
	}
}

func newProfile(studentID id.StudentID, number string) *student.Profile {
	return &student.Profile{
		Entity:           types.NewEntity(),
		ID:               id.NewProfileID(),
		StudentID:        studentID,
		EnrollmentNumber: number,
		Status:           student.StatusActive,
	}
}

func TestRosterConditionalWrite(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	b := newBatch(1)
	require.NoError(t, s.CreateBatch(ctx, b))

	first, second := id.NewStudentID(), id.NewStudentID()
	require.NoError(t, s.AddToRoster(ctx, b.ID, first))
	assert.ErrorIs(t, s.AddToRoster(ctx, b.ID, first), bursar.ErrCapacityExceeded)
	assert.ErrorIs(t, s.AddToRoster(ctx, b.ID, second), bursar.ErrCapacityExceeded)
	assert.ErrorIs(t, s.AddToRoster(ctx, id.NewBatchID(), first), bursar.ErrBatchNotFound)

	require.NoError(t, s.RemoveFromRoster(ctx, b.ID, first))
	require.NoError(t, s.RemoveFromRoster(ctx, b.ID, first))
	require.NoError(t, s.AddToRoster(ctx, b.ID, second))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []id.StudentID{second}, got.EnrolledStudents)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	b := newBatch(5)
	require.NoError(t, s.CreateBatch(ctx, b))
	require.NoError(t, s.AddToRoster(ctx, b.ID, id.NewStudentID()))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	got.EnrolledStudents[0] = id.Nil
	got.MaxStudents = 1

	again, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, again.EnrolledStudents[0].IsNil())
	assert.Equal(t, 5, again.MaxStudents)
}

func TestStudentEmailIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	st := &student.Student{Entity: types.NewEntity(), ID: id.NewStudentID(), Name: "Aiko", Email: "aiko@example.com"}
	require.NoError(t, s.CreateStudent(ctx, st))

	dup := &student.Student{Entity: types.NewEntity(), ID: id.NewStudentID(), Name: "Aiko", Email: "AIKO@example.com"}
	assert.ErrorIs(t, s.CreateStudent(ctx, dup), bursar.ErrAlreadyExists)

	got, err := s.GetStudentByEmail(ctx, "Aiko@Example.com")
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
}

func TestAssignBatchUpsertsProfile(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	sid := id.NewStudentID()
	course := id.NewCourseID()
	b1, b2 := id.NewBatchID(), id.NewBatchID()

	p, err := s.AssignBatch(ctx, newProfile(sid, "JN2026A"), b1, course)
	require.NoError(t, err)
	assert.Equal(t, b1, p.BatchID)
	assert.Equal(t, []id.CourseID{course}, p.EnrolledCourses)

	// second assignment keeps the stored number and does not repeat the course
	p, err = s.AssignBatch(ctx, newProfile(sid, "JN2026B"), b2, course)
	require.NoError(t, err)
	assert.Equal(t, "JN2026A", p.EnrollmentNumber)
	assert.Equal(t, b2, p.BatchID)
	assert.Len(t, p.EnrolledCourses, 1)

	_, err = s.AssignBatch(ctx, newProfile(id.NewStudentID(), "JN2026A"), b1, course)
	assert.ErrorIs(t, err, bursar.ErrDuplicateEnrollmentNumber)

	// clearing a batch the profile no longer points at is a no-op
	require.NoError(t, s.ClearBatch(ctx, sid, b1))
	p, err = s.GetProfile(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, b2, p.BatchID)

	require.NoError(t, s.UndoAssign(ctx, sid, b1, course))
	p, err = s.GetProfile(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, b1, p.BatchID)
	assert.Empty(t, p.EnrolledCourses)

	assert.ErrorIs(t, s.ClearBatch(ctx, id.NewStudentID(), b1), bursar.ErrProfileNotFound)
}

func TestFeeStructureVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	fs := &fee.Structure{
		Entity:        types.NewEntity(),
		ID:            id.NewFeeStructureID(),
		StudentID:     id.NewStudentID(),
		BatchID:       id.NewBatchID(),
		TotalFee:      types.INR(10000),
		Discount:      types.INR(0),
		PaidAmount:    types.INR(0),
		PendingAmount: types.INR(10000),
		Version:       1,
	}
	require.NoError(t, s.CreateFeeStructure(ctx, fs))

	stale := *fs
	fs.Apply(types.INR(4000))
	require.NoError(t, s.UpdateFeeStructure(ctx, fs))
	assert.Equal(t, int64(2), fs.Version)

	stale.Apply(types.INR(1000))
	assert.ErrorIs(t, s.UpdateFeeStructure(ctx, &stale), bursar.ErrConcurrentUpdate)

	got, err := s.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.PaidAmount.Amount)
	assert.Equal(t, int64(6000), got.PendingAmount.Amount)

	dup := *fs
	dup.ID = id.NewFeeStructureID()
	assert.ErrorIs(t, s.CreateFeeStructure(ctx, &dup), bursar.ErrFeeStructureExists)
}

func TestPaymentUniqueness(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	structureID := id.NewFeeStructureID()
	pay := func(receipt, key string) *fee.Payment {
		return &fee.Payment{
			ID:             id.NewFeePaymentID(),
			FeeStructureID: structureID,
			StudentID:      id.NewStudentID(),
			Amount:         types.INR(100),
			Method:         fee.MethodCash,
			ReceiptNumber:  receipt,
			IdempotencyKey: key,
			PaidAt:         time.Now().UTC(),
		}
	}

	first := pay("RCP1", "k1")
	require.NoError(t, s.CreateFeePayment(ctx, first))
	assert.ErrorIs(t, s.CreateFeePayment(ctx, pay("RCP1", "")), bursar.ErrDuplicateReceipt)
	assert.ErrorIs(t, s.CreateFeePayment(ctx, pay("RCP2", "k1")), bursar.ErrDuplicatePayment)
	require.NoError(t, s.CreateFeePayment(ctx, pay("RCP3", "")))
	require.NoError(t, s.CreateFeePayment(ctx, pay("RCP4", "")))

	got, err := s.GetFeePaymentByIdempotencyKey(ctx, structureID, "k1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.GetFeePaymentByIdempotencyKey(ctx, structureID, "k2")
	assert.ErrorIs(t, err, bursar.ErrPaymentNotFound)
}

func TestClosedStoreFailsPing(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), bursar.ErrStoreClosed)
}
