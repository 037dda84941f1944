package bursar_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// TestDocumentationExamples keeps the package documentation examples compiling and working.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		s := memory.New()

		b := bursar.New(s, bursar.WithLogger(slog.Default()))

		ctx := context.Background()
		if err := b.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer b.Stop() //nolint:errcheck // example

		bt := &batch.Batch{
			Name:        "Japanese N5 - Weekend",
			CourseID:    id.NewCourseID(),
			TeacherID:   id.NewTeacherID(),
			Schedule:    "Sat/Sun 10:00",
			MaxStudents: 20,
		}
		if err := b.CreateBatch(ctx, bt); err != nil {
			t.Fatal(err)
		}

		st := &student.Student{Name: "Riya Sharma", Email: "riya@example.com"}
		if err := b.RegisterStudent(ctx, st); err != nil {
			t.Fatal(err)
		}

		res, err := b.EnrollWithFee(ctx, bursar.EnrollInput{
			BatchID:   bt.ID,
			StudentID: st.ID,
			TotalFee:  types.INR(1000000), // ₹10000.00
			Discount:  types.INR(100000),
		})
		if err != nil {
			t.Fatal(err)
		}

		pay, err := b.RecordPayment(ctx, bursar.PaymentInput{
			FeeStructureID: res.FeeStructure.ID,
			Amount:         types.INR(500000),
			Method:         fee.MethodUPI,
			IdempotencyKey: "req-1",
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Logf("receipt %s, enrollment %s", pay.ReceiptNumber, res.Profile.EnrollmentNumber)

		fs, err := b.GetFeeStructure(ctx, res.FeeStructure.ID)
		if err != nil {
			t.Fatal(err)
		}
		if fs.PendingAmount.Amount != 400000 {
			t.Fatalf("pending: got %d, want 400000", fs.PendingAmount.Amount)
		}
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		m1 := types.INR(100)
		m2 := types.INR(200)
		if got := m1.Add(m2); got.Amount != 300 {
			t.Errorf("Add: got %d", got.Amount)
		}
		if got := m1.Multiply(3); got.Amount != 300 {
			t.Errorf("Multiply: got %d", got.Amount)
		}
		if !m1.LessThan(m2) {
			t.Error("LessThan: want true")
		}
		if got := types.INR(1000).Split(3); got[2].Amount != 334 {
			t.Errorf("Split: last part got %d, want 334", got[2].Amount)
		}
	})
}
