package bursar_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// recorder captures hook invocations in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	reason error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) OnInit(context.Context, any) error { r.add("init"); return nil }
func (r *recorder) OnShutdown(context.Context) error  { r.add("shutdown"); return nil }

func (r *recorder) OnStudentEnrolled(context.Context, *batch.Batch, *student.Profile) error {
	r.add("enrolled")
	return nil
}

func (r *recorder) OnStudentRemoved(context.Context, id.BatchID, id.StudentID) error {
	r.add("removed")
	return nil
}

func (r *recorder) OnEnrollmentRejected(_ context.Context, _ id.BatchID, _ id.StudentID, reason error) error {
	r.mu.Lock()
	r.reason = reason
	r.mu.Unlock()
	r.add("rejected")
	return nil
}

func (r *recorder) OnBulkEnrollCompleted(_ context.Context, _ id.BatchID, _, _ int, _ time.Duration) error {
	r.add("bulk")
	return nil
}

func (r *recorder) OnFeeStructureCreated(context.Context, *fee.Structure) error {
	r.add("structure")
	return nil
}

func (r *recorder) OnPaymentRecorded(context.Context, *fee.Payment, *fee.Structure) error {
	r.add("payment")
	return nil
}

func (r *recorder) OnFeeStructureSettled(context.Context, *fee.Structure) error {
	r.add("settled")
	return nil
}

// failing returns an error from every enrollment hook.
type failing struct{}

func (failing) Name() string { return "failing" }

func (failing) OnStudentEnrolled(context.Context, *batch.Batch, *student.Profile) error {
	return errors.New("downstream unavailable")
}

// slow blocks longer than the hook timeout.
type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnStudentEnrolled(ctx context.Context, _ *batch.Batch, _ *student.Profile) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestHooksFireInOrder(t *testing.T) {
	rec := &recorder{}
	b, _ := newEngine(t, bursar.WithPlugin(rec))
	ctx := context.Background()
	bt := createBatch(t, b, 1)
	a, c := registerStudent(t, b, "ha"), registerStudent(t, b, "hc")

	res, err := b.EnrollWithFee(ctx, bursar.EnrollInput{BatchID: bt.ID, StudentID: a.ID, TotalFee: types.INR(2000), Installments: 1})
	require.NoError(t, err)
	_, err = b.Enroll(ctx, bt.ID, c.ID)
	require.ErrorIs(t, err, bursar.ErrCapacityExceeded)

	pay(t, b, res.FeeStructure, 1500)
	pay(t, b, res.FeeStructure, 500)
	pay(t, b, res.FeeStructure, 100)

	require.NoError(t, b.RemoveStudent(ctx, bt.ID, a.ID))
	_, err = b.BulkEnroll(ctx, bt.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"init",
		"enrolled", "structure",
		"rejected",
		"payment", "payment", "settled", "payment",
		"removed",
		"bulk",
	}, rec.seen())
	require.ErrorIs(t, rec.reason, bursar.ErrCapacityExceeded)
}

func TestHookFailureDoesNotUndoWrite(t *testing.T) {
	b, _ := newEngine(t, bursar.WithPlugin(failing{}), bursar.WithPlugin(slow{}), bursar.WithHookTimeout(20*time.Millisecond))
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "hooked")

	_, err := b.Enroll(ctx, bt.ID, st.ID)
	require.NoError(t, err)

	got, err := b.GetBatch(ctx, bt.ID)
	require.NoError(t, err)
	assert.Equal(t, []id.StudentID{st.ID}, got.EnrolledStudents)
	assert.Equal(t, 2, b.Plugins().Count())
}
