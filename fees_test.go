package bursar_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/types"
)

func pay(t *testing.T, b *bursar.Bursar, fs *fee.Structure, amount int64) *fee.Payment {
	t.Helper()
	p, err := b.RecordPayment(context.Background(), bursar.PaymentInput{
		FeeStructureID: fs.ID,
		Amount:         types.INR(amount),
		Method:         fee.MethodUPI,
	})
	require.NoError(t, err)
	return p
}

func TestCreateStructureSchedule(t *testing.T) {
	b, _ := newEngine(t)
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "anita")

	fs := createStructure(t, b, st, bt, 10000, 1000, 3)
	assert.Equal(t, types.INR(9000), fs.NetDue())
	assert.Equal(t, types.INR(9000), fs.PendingAmount)
	assert.True(t, fs.PaidAmount.IsZero())
	assert.Equal(t, fee.StateCreated, fs.State())
	assert.Equal(t, bt.CourseID, fs.CourseID)
	require.Len(t, fs.Installments, 3)
	for i, in := range fs.Installments {
		assert.Equal(t, i+1, in.Number)
		assert.Equal(t, types.INR(3000), in.Amount)
		assert.Equal(t, fee.InstallmentPending, in.Status)
		assert.Equal(t, fixedNow.Add(time.Duration(i+1)*bursar.DefaultInstallmentInterval), in.DueDate)
	}

	stored, err := b.GetFeeStructure(context.Background(), fs.ID)
	require.NoError(t, err)
	assert.Equal(t, fs.PendingAmount, stored.PendingAmount)
}

func TestCreateStructureRemainderOnLastInstallment(t *testing.T) {
	b, _ := newEngine(t)
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "odd")

	fs := createStructure(t, b, st, bt, 10000, 0, 3)
	got := []int64{fs.Installments[0].Amount.Amount, fs.Installments[1].Amount.Amount, fs.Installments[2].Amount.Amount}
	assert.Equal(t, []int64{3333, 3333, 3334}, got)
}

func TestCreateStructureCustomInterval(t *testing.T) {
	b, _ := newEngine(t, bursar.WithInstallmentInterval(7*24*time.Hour))
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "weekly")

	fs := createStructure(t, b, st, bt, 4000, 0, 2)
	assert.Equal(t, fixedNow.AddDate(0, 0, 14), fs.Installments[1].DueDate)
}

func TestCreateStructureZeroFee(t *testing.T) {
	b, _ := newEngine(t)
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "scholar")

	fs := createStructure(t, b, st, bt, 5000, 5000, 2)
	assert.True(t, fs.PendingAmount.IsZero())
	assert.Equal(t, fee.StateFullyPaid, fs.State())
}

func TestCreateStructureValidation(t *testing.T) {
	b, _ := newEngine(t)
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "val")

	base := bursar.CreateStructureInput{
		StudentID:    st.ID,
		BatchID:      bt.ID,
		TotalFee:     types.INR(10000),
		Installments: 2,
	}

	tests := []struct {
		name   string
		mutate func(*bursar.CreateStructureInput)
		want   error
	}{
		{"discount above total", func(in *bursar.CreateStructureInput) { in.Discount = types.INR(10001) }, bursar.ErrInvalidAmount},
		{"negative total", func(in *bursar.CreateStructureInput) { in.TotalFee = types.INR(-1) }, bursar.ErrInvalidAmount},
		{"negative discount", func(in *bursar.CreateStructureInput) { in.Discount = types.INR(-5) }, bursar.ErrInvalidAmount},
		{"no installments", func(in *bursar.CreateStructureInput) { in.Installments = 0 }, bursar.ErrInvalidInput},
		{"foreign currency", func(in *bursar.CreateStructureInput) { in.TotalFee = types.USD(10000) }, bursar.ErrInvalidAmount},
		{"zero discount in another currency", func(in *bursar.CreateStructureInput) { in.Discount = types.USD(0) }, bursar.ErrInvalidAmount},
		{"too many installments", func(in *bursar.CreateStructureInput) { in.Installments = 121 }, bursar.ErrInvalidInput},
		{"installment below one paisa", func(in *bursar.CreateStructureInput) {
			in.TotalFee = types.INR(2)
			in.Installments = 3
		}, bursar.ErrInvalidInput},
		{"missing student", func(in *bursar.CreateStructureInput) { in.StudentID = id.NewStudentID() }, bursar.ErrStudentNotFound},
		{"missing batch", func(in *bursar.CreateStructureInput) { in.BatchID = id.NewBatchID() }, bursar.ErrBatchNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := b.CreateStructure(ctx, in)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := b.CreateStructure(ctx, base)
	require.NoError(t, err)
	_, err = b.CreateStructure(ctx, base)
	require.ErrorIs(t, err, bursar.ErrFeeStructureExists)
}

func TestRecordPaymentOverpaymentClamps(t *testing.T) {
	b, _ := newEngine(t)
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "over")
	fs := createStructure(t, b, st, bt, 10000, 1000, 3)

	first := pay(t, b, fs, 5000)
	assert.Equal(t, 1, first.InstallmentNumber)

	got, err := b.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.INR(5000), got.PaidAmount)
	assert.Equal(t, types.INR(4000), got.PendingAmount)
	assert.Equal(t, fee.StatePartiallyPaid, got.State())
	assert.Equal(t, 1, got.PaidInstallments())

	second := pay(t, b, fs, 6000)
	assert.Equal(t, 2, second.InstallmentNumber)

	got, err = b.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.INR(11000), got.PaidAmount)
	assert.True(t, got.PendingAmount.IsZero())
	assert.Equal(t, types.INR(2000), got.Overpaid())
	assert.Equal(t, 3, got.PaidInstallments())
	assert.Nil(t, got.NextDue())
}

func TestRecordPaymentInstallmentLabels(t *testing.T) {
	b, _ := newEngine(t)
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "labels")
	fs := createStructure(t, b, st, bt, 9000, 0, 3)

	labels := []int{}
	for _, amount := range []int64{3000, 1000, 2000, 3000} {
		labels = append(labels, pay(t, b, fs, amount).InstallmentNumber)
	}
	assert.Equal(t, []int{1, 2, 2, 3}, labels)
}

func TestRecordPaymentReceiptNumber(t *testing.T) {
	b, _ := newEngine(t)
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "receipt")
	fs := createStructure(t, b, st, bt, 9000, 0, 3)

	seen := map[string]bool{}
	for range 20 {
		p := pay(t, b, fs, 10)
		assert.Regexp(t, `^RCP20260118[A-Z0-9]{6}$`, p.ReceiptNumber)
		assert.False(t, seen[p.ReceiptNumber], "receipt numbers are unique")
		seen[p.ReceiptNumber] = true
		assert.Equal(t, fixedNow, p.PaidAt)
	}
}

func TestRecordPaymentRejectsBadInput(t *testing.T) {
	b, _ := newEngine(t)
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "bad")
	fs := createStructure(t, b, st, bt, 9000, 0, 3)

	tests := []struct {
		name string
		in   bursar.PaymentInput
		want error
	}{
		{"zero amount", bursar.PaymentInput{FeeStructureID: fs.ID, Amount: types.INR(0), Method: fee.MethodCash}, bursar.ErrInvalidAmount},
		{"negative amount", bursar.PaymentInput{FeeStructureID: fs.ID, Amount: types.INR(-100), Method: fee.MethodCash}, bursar.ErrInvalidAmount},
		{"unknown method", bursar.PaymentInput{FeeStructureID: fs.ID, Amount: types.INR(100), Method: "cheque"}, bursar.ErrInvalidInput},
		{"wrong currency", bursar.PaymentInput{FeeStructureID: fs.ID, Amount: types.USD(100), Method: fee.MethodCash}, bursar.ErrInvalidAmount},
		{"missing structure", bursar.PaymentInput{FeeStructureID: id.NewFeeStructureID(), Amount: types.INR(100), Method: fee.MethodCash}, bursar.ErrFeeStructureNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.RecordPayment(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}

	got, err := b.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero())
}

func TestRecordPaymentIdempotencyKey(t *testing.T) {
	b, _ := newEngine(t)
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "retry")
	fs := createStructure(t, b, st, bt, 9000, 0, 3)

	in := bursar.PaymentInput{
		FeeStructureID: fs.ID,
		Amount:         types.INR(3000),
		Method:         fee.MethodOnline,
		TransactionID:  "pg_txn_81",
		IdempotencyKey: "checkout-81",
	}
	first, err := b.RecordPayment(ctx, in)
	require.NoError(t, err)
	again, err := b.RecordPayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ReceiptNumber, again.ReceiptNumber)

	got, err := b.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.INR(3000), got.PaidAmount)
}

// scriptedNumberer hands out receipt numbers from a fixed list.
type scriptedNumberer struct {
	mu      sync.Mutex
	numbers []string
	calls   int
}

func (n *scriptedNumberer) Name() string { return "scripted-receipts" }

func (n *scriptedNumberer) ReceiptNumber(context.Context, *fee.Payment, time.Time) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := min(n.calls, len(n.numbers)-1)
	n.calls++
	return n.numbers[i], nil
}

func TestRecordPaymentRetriesReceiptCollision(t *testing.T) {
	numberer := &scriptedNumberer{numbers: []string{"R-0001", "R-0001", "R-0002"}}
	b, _ := newEngine(t, bursar.WithPlugin(numberer))
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "collide")
	fs := createStructure(t, b, st, bt, 9000, 0, 3)

	assert.Equal(t, "R-0001", pay(t, b, fs, 100).ReceiptNumber)
	assert.Equal(t, "R-0002", pay(t, b, fs, 100).ReceiptNumber)
	assert.Equal(t, 3, numberer.calls)
}

func TestRecordPaymentGivesUpOnPersistentCollision(t *testing.T) {
	numberer := &scriptedNumberer{numbers: []string{"SAME"}}
	b, _ := newEngine(t, bursar.WithPlugin(numberer), bursar.WithMaxConflictRetries(2))
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "stuck")
	fs := createStructure(t, b, st, bt, 9000, 0, 3)

	pay(t, b, fs, 100)
	_, err := b.RecordPayment(ctx, bursar.PaymentInput{FeeStructureID: fs.ID, Amount: types.INR(100), Method: fee.MethodCash})
	require.ErrorIs(t, err, bursar.ErrDuplicateReceipt)
	assert.True(t, bursar.IsRetryable(err))

	got, err := b.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.INR(100), got.PaidAmount)
}

func TestRecordPaymentRevertsWhenBalanceUpdateFails(t *testing.T) {
	fs := &faultyStore{Store: memory.New()}
	b := newEngineOn(t, fs)
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "revert")
	structure := createStructure(t, b, st, bt, 9000, 0, 3)

	fs.failUpdateStructure = true
	_, err := b.RecordPayment(ctx, bursar.PaymentInput{FeeStructureID: structure.ID, Amount: types.INR(500), Method: fee.MethodCash})
	require.ErrorIs(t, err, errInjected)

	fees, err := b.StudentFees(ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, fees.Payments)
	assert.True(t, fees.Structures[0].PaidAmount.IsZero())
}

func TestConcurrentPaymentsAllApplied(t *testing.T) {
	b, _ := newEngine(t, bursar.WithMaxConflictRetries(50))
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "busy")
	fs := createStructure(t, b, st, bt, 10000, 0, 4)

	const payers = 20
	var wg sync.WaitGroup
	for range payers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.RecordPayment(ctx, bursar.PaymentInput{FeeStructureID: fs.ID, Amount: types.INR(100), Method: fee.MethodCash})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := b.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.INR(payers*100), got.PaidAmount)
	assert.Equal(t, types.INR(10000-payers*100), got.PendingAmount)

	fees, err := b.StudentFees(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, fees.Payments, payers)
}

// staleStore hands out one outdated copy of a fee structure, like a read
// that raced a concurrent payment.
type staleStore struct {
	*memory.Store
	mu    sync.Mutex
	stale *fee.Structure
}

func (s *staleStore) serveOnce(fs *fee.Structure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = fs
}

func (s *staleStore) GetFeeStructure(ctx context.Context, structureID id.FeeStructureID) (*fee.Structure, error) {
	s.mu.Lock()
	stale := s.stale
	if stale != nil && stale.ID == structureID {
		s.stale = nil
	}
	s.mu.Unlock()
	if stale != nil && stale.ID == structureID {
		return stale, nil
	}
	return s.Store.GetFeeStructure(ctx, structureID)
}

func TestRecordPaymentLabelFollowsCommittedVersion(t *testing.T) {
	ss := &staleStore{Store: memory.New()}
	b := newEngineOn(t, ss)
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "lagging")
	fs := createStructure(t, b, st, bt, 10000, 0, 2)

	before, err := b.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pay(t, b, fs, 5000).InstallmentNumber)

	ss.serveOnce(before)
	second := pay(t, b, fs, 5000)
	assert.Equal(t, 2, second.InstallmentNumber)

	fees, err := b.StudentFees(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, fees.Payments, 2)
	for _, p := range fees.Payments {
		if p.ID == second.ID {
			assert.Equal(t, 2, p.InstallmentNumber, "stored label")
		}
	}

	got, err := b.GetFeeStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.INR(10000), got.PaidAmount)
	assert.True(t, got.PendingAmount.IsZero())
	assert.Equal(t, 2, got.PaidInstallments())
}

func TestConcurrentPaymentsGetDistinctLabels(t *testing.T) {
	b, _ := newEngine(t, bursar.WithMaxConflictRetries(50))
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	st := registerStudent(t, b, "rush")
	fs := createStructure(t, b, st, bt, 10000, 0, 4)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		labels []int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := b.RecordPayment(ctx, bursar.PaymentInput{FeeStructureID: fs.ID, Amount: types.INR(2500), Method: fee.MethodCash})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			labels = append(labels, p.InstallmentNumber)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 2, 3, 4}, labels)
}

func TestPendingFeesPagesThroughEverything(t *testing.T) {
	b, _ := newEngine(t)
	ctx := context.Background()
	bt := createBatch(t, b, 500)

	const total = 230
	structures := make([]*fee.Structure, 0, total)
	for i := range total {
		st := registerStudent(t, b, fmt.Sprintf("pending%03d", i))
		structures = append(structures, createStructure(t, b, st, bt, 1000, 0, 1))
	}
	pay(t, b, structures[7], 1000)
	pay(t, b, structures[150], 400)

	seen := map[id.FeeStructureID]bool{}
	for pf, err := range b.PendingFees(ctx) {
		require.NoError(t, err)
		require.NotNil(t, pf.Student)
		assert.Equal(t, pf.Structure.StudentID, pf.Student.ID)
		assert.True(t, pf.Structure.PendingAmount.IsPositive())
		assert.False(t, seen[pf.Structure.ID], "structure yielded twice")
		seen[pf.Structure.ID] = true
	}
	assert.Len(t, seen, total-1)
	assert.False(t, seen[structures[7].ID])
	assert.True(t, seen[structures[150].ID])
}

func TestPendingFeesStopsEarly(t *testing.T) {
	b, _ := newEngine(t)
	bt := createBatch(t, b, 10)
	for i := range 5 {
		st := registerStudent(t, b, fmt.Sprintf("early%d", i))
		createStructure(t, b, st, bt, 1000, 0, 1)
	}

	n := 0
	for _, err := range b.PendingFees(context.Background()) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestPendingFeesEmpty(t *testing.T) {
	b, _ := newEngine(t)
	for range b.PendingFees(context.Background()) {
		t.Fatal("expected no pending fees")
	}
}

func TestStudentFeesNewestPaymentFirst(t *testing.T) {
	b, _ := newEngine(t)
	ctx := context.Background()
	first, second := createBatch(t, b, 5), createBatch(t, b, 5)
	st := registerStudent(t, b, "history")
	fsA := createStructure(t, b, st, first, 5000, 0, 1)
	fsB := createStructure(t, b, st, second, 7000, 0, 2)

	day := 24 * time.Hour
	for i, target := range []*fee.Structure{fsA, fsB, fsA} {
		_, err := b.RecordPayment(ctx, bursar.PaymentInput{
			FeeStructureID: target.ID,
			Amount:         types.INR(1000),
			Method:         fee.MethodBankTransfer,
			PaidAt:         fixedNow.Add(time.Duration(i) * day),
		})
		require.NoError(t, err)
	}

	fees, err := b.StudentFees(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, fees.Student.ID)
	assert.Len(t, fees.Structures, 2)
	require.Len(t, fees.Payments, 3)
	assert.Equal(t, fixedNow.Add(2*day), fees.Payments[0].PaidAt)
	assert.Equal(t, fixedNow, fees.Payments[2].PaidAt)

	_, err = b.StudentFees(ctx, id.NewStudentID())
	require.ErrorIs(t, err, bursar.ErrStudentNotFound)
}

func TestTotals(t *testing.T) {
	b, _ := newEngine(t)
	ctx := context.Background()
	bt := createBatch(t, b, 5)
	a, c := registerStudent(t, b, "ta"), registerStudent(t, b, "tc")
	fsA := createStructure(t, b, a, bt, 10000, 1000, 3)
	createStructure(t, b, c, bt, 5000, 0, 1)

	pay(t, b, fsA, 4000)
	pay(t, b, fsA, 6000)

	totals, err := b.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.INR(10000), totals.Collected)
	assert.Equal(t, types.INR(5000), totals.Pending)
}
