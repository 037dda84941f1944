package bursar_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

var fixedNow = time.Date(2026, 1, 18, 10, 30, 0, 0, time.UTC)

var errInjected = errors.New("injected failure")

// faultyStore fails selected writes to exercise rollback paths.
type faultyStore struct {
	*memory.Store
	failAssign          bool
	failCreateStructure bool
	failUpdateStructure bool
}

func (f *faultyStore) AssignBatch(ctx context.Context, t *student.Profile, b id.BatchID, c id.CourseID) (*student.Profile, error) {
	if f.failAssign {
		return nil, errInjected
	}
	return f.Store.AssignBatch(ctx, t, b, c)
}

func (f *faultyStore) CreateFeeStructure(ctx context.Context, s *fee.Structure) error {
	if f.failCreateStructure {
		return errInjected
	}
	return f.Store.CreateFeeStructure(ctx, s)
}

func (f *faultyStore) UpdateFeeStructure(ctx context.Context, s *fee.Structure) error {
	if f.failUpdateStructure {
		return errInjected
	}
	return f.Store.UpdateFeeStructure(ctx, s)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, opts ...bursar.Option) (*bursar.Bursar, *memory.Store) {
	t.Helper()
	s := memory.New()
	return newEngineOn(t, s, opts...), s
}

func newEngineOn(t *testing.T, s store.Store, opts ...bursar.Option) *bursar.Bursar {
	t.Helper()
	base := []bursar.Option{
		bursar.WithLogger(quietLogger()),
		bursar.WithClock(func() time.Time { return fixedNow }),
	}
	b := bursar.New(s, append(base, opts...)...)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func createBatch(t *testing.T, b *bursar.Bursar, capacity int) *batch.Batch {
	t.Helper()
	bt := &batch.Batch{
		Name:        "Japanese N5 - Evening",
		CourseID:    id.NewCourseID(),
		TeacherID:   id.NewTeacherID(),
		Schedule:    "Mon/Wed 18:00",
		MaxStudents: capacity,
	}
	require.NoError(t, b.CreateBatch(context.Background(), bt))
	return bt
}

func registerStudent(t *testing.T, b *bursar.Bursar, name string) *student.Student {
	t.Helper()
	st := &student.Student{Name: name, Email: name + "@example.com", Phone: "9800000000"}
	require.NoError(t, b.RegisterStudent(context.Background(), st))
	return st
}

func createStructure(t *testing.T, b *bursar.Bursar, st *student.Student, bt *batch.Batch, total, discount int64, n int) *fee.Structure {
	t.Helper()
	fs, err := b.CreateStructure(context.Background(), bursar.CreateStructureInput{
		StudentID:    st.ID,
		BatchID:      bt.ID,
		TotalFee:     types.INR(total),
		Discount:     types.INR(discount),
		Installments: n,
	})
	require.NoError(t, err)
	return fs
}
