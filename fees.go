package bursar

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// pendingPageSize is how many structures PendingFees reads per store call.
const pendingPageSize = 100

// studentPaymentsLimit caps the payment history returned by StudentFees.
const studentPaymentsLimit = 50

// CreateStructureInput describes a new fee structure. CourseID defaults to
// the batch's course.
type CreateStructureInput struct {
	StudentID    id.StudentID `json:"student_id" validate:"required"`
	CourseID     id.CourseID  `json:"course_id"`
	BatchID      id.BatchID   `json:"batch_id" validate:"required"`
	TotalFee     types.Money  `json:"total_fee" validate:"gte=0"`
	Discount     types.Money  `json:"discount" validate:"gte=0"`
	Installments int          `json:"installments" validate:"gte=1,max=120"`
}

// CreateStructure creates the fee structure for one student+batch
// enrollment. The net due (total less discount) is split across the
// installments in minor units with the remainder on the last one, and
// installment n falls due n intervals after creation.
func (b *Bursar) CreateStructure(ctx context.Context, in CreateStructureInput) (*fee.Structure, error) {
	in.TotalFee = b.inCurrency(in.TotalFee)
	in.Discount = b.inCurrency(in.Discount)
	if err := b.check(in); err != nil {
		return nil, err
	}
	if err := b.checkFeeTerms(in.TotalFee, in.Discount, in.Installments); err != nil {
		return nil, err
	}

	if _, err := b.store.GetStudent(ctx, in.StudentID); err != nil {
		return nil, err
	}
	bt, err := b.store.GetBatch(ctx, in.BatchID)
	if err != nil {
		return nil, err
	}
	if in.CourseID.IsNil() {
		in.CourseID = bt.CourseID
	}

	now := b.now()
	s := &fee.Structure{
		Entity:     types.EntityAt(now),
		ID:         id.NewFeeStructureID(),
		StudentID:  in.StudentID,
		CourseID:   in.CourseID,
		BatchID:    in.BatchID,
		TotalFee:   in.TotalFee,
		Discount:   in.Discount,
		PaidAmount: types.Zero(b.currency),
		Version:    1,
	}
	s.Installments = fee.Schedule(s.NetDue(), in.Installments, now, b.installmentInterval)
	s.Apply(types.Zero(b.currency))

	if err := b.store.CreateFeeStructure(ctx, s); err != nil {
		return nil, err
	}

	b.logger.Info("fee structure created",
		"fee_structure_id", s.ID.String(),
		"student_id", s.StudentID.String(),
		"batch_id", s.BatchID.String(),
		"net_due", s.NetDue().String(),
		"installments", len(s.Installments),
	)
	b.plugins.EmitFeeStructureCreated(ctx, s)
	return s, nil
}

// checkFeeTerms holds the rules validator tags cannot express: the ledger
// currency, and no installment smaller than one minor unit.
func (b *Bursar) checkFeeTerms(total, discount types.Money, installments int) error {
	if total.Currency != b.currency {
		return ValidationError{Field: "total_fee", Message: "must be in " + b.currency, Amount: true}
	}
	net := total.Subtract(discount)
	if net.IsPositive() && int64(installments) > net.Amount {
		return ValidationError{Field: "installments", Message: "must not exceed the net fee in minor units"}
	}
	return nil
}

// GetFeeStructure retrieves a fee structure.
func (b *Bursar) GetFeeStructure(ctx context.Context, structureID id.FeeStructureID) (*fee.Structure, error) {
	return b.store.GetFeeStructure(ctx, structureID)
}

// PaymentInput describes money received against a fee structure.
// A non-empty IdempotencyKey makes repeated calls for the same structure
// return the first payment instead of recording another.
type PaymentInput struct {
	FeeStructureID id.FeeStructureID `json:"fee_structure_id" validate:"required"`
	Amount         types.Money       `json:"amount" validate:"gt=0"`
	Method         fee.Method        `json:"payment_method" validate:"required,oneof=online cash bank_transfer upi"`
	TransactionID  string            `json:"transaction_id,omitempty" validate:"max=128"`
	Notes          string            `json:"notes,omitempty" validate:"max=1024"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" validate:"max=128"`
	PaidAt         time.Time         `json:"payment_date"` // zero means now
}

// RecordPayment appends a payment to a fee structure and applies it to the
// structure's balance. Overpayment is accepted: PaidAmount keeps growing
// while PendingAmount stops at zero. The payment is labelled with the next
// unpaid installment position and carries a unique receipt number.
//
// The balance is updated first, and the label is taken from the same
// version of the structure the update committed against. If the payment
// cannot then be stored the balance update is reverted, so a payment never
// exists without its effect and vice versa.
func (b *Bursar) RecordPayment(ctx context.Context, in PaymentInput) (*fee.Payment, error) {
	in.Amount = b.inCurrency(in.Amount)
	if err := b.check(in); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		existing, err := b.store.GetFeePaymentByIdempotencyKey(ctx, in.FeeStructureID, in.IdempotencyKey)
		if err == nil {
			b.logger.Debug("payment replayed",
				"fee_structure_id", in.FeeStructureID.String(),
				"receipt_number", existing.ReceiptNumber,
			)
			return existing, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
	}

	now := b.now()
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	var (
		s          *fee.Structure
		label      int
		settledNow bool
	)
	err := b.retry(ctx, "apply_payment", func() error {
		fresh, err := b.store.GetFeeStructure(ctx, in.FeeStructureID)
		if err != nil {
			return err
		}
		if !in.Amount.SameCurrency(fresh.TotalFee) {
			return ValidationError{Field: "amount", Message: "must be in " + fresh.TotalFee.Currency, Amount: true}
		}
		s = fresh

		label = s.NextInstallmentNumber()
		wasSettled := s.IsFullyPaid()
		s.Apply(in.Amount)
		s.TouchAt(now)
		settledNow = !wasSettled && s.IsFullyPaid()
		return b.store.UpdateFeeStructure(ctx, s)
	})
	if err != nil {
		return nil, err
	}

	pay := &fee.Payment{
		ID:                id.NewFeePaymentID(),
		FeeStructureID:    s.ID,
		StudentID:         s.StudentID,
		Amount:            in.Amount,
		Method:            in.Method,
		TransactionID:     in.TransactionID,
		InstallmentNumber: label,
		IdempotencyKey:    in.IdempotencyKey,
		Notes:             in.Notes,
		PaidAt:            paidAt.UTC(),
	}
	err = b.retry(ctx, "issue_receipt", func() error {
		number, err := b.receiptNumber(ctx, pay, paidAt)
		if err != nil {
			return err
		}
		pay.ReceiptNumber = number
		return b.store.CreateFeePayment(ctx, pay)
	})
	if err != nil {
		b.unapplyPayment(ctx, s.ID, in.Amount)
		if errors.Is(err, ErrDuplicatePayment) {
			// lost a race with a concurrent call carrying the same key
			return b.store.GetFeePaymentByIdempotencyKey(ctx, in.FeeStructureID, in.IdempotencyKey)
		}
		return nil, err
	}

	b.logger.Info("payment recorded",
		"fee_structure_id", s.ID.String(),
		"receipt_number", pay.ReceiptNumber,
		"amount", pay.Amount.String(),
		"installment_number", pay.InstallmentNumber,
		"paid_amount", s.PaidAmount.String(),
		"pending_amount", s.PendingAmount.String(),
	)
	b.plugins.EmitPaymentRecorded(ctx, pay, s)
	if settledNow {
		b.plugins.EmitFeeStructureSettled(ctx, s)
	}
	return pay, nil
}

// unapplyPayment takes amount back off a structure whose payment record
// could not be written.
func (b *Bursar) unapplyPayment(ctx context.Context, structureID id.FeeStructureID, amount types.Money) {
	b.logger.Warn("reverting balance update",
		"fee_structure_id", structureID.String(),
		"amount", amount.String(),
	)
	err := b.retry(ctx, "revert_payment", func() error {
		s, err := b.store.GetFeeStructure(ctx, structureID)
		if err != nil {
			return err
		}
		s.Apply(amount.Multiply(-1))
		s.TouchAt(b.now())
		return b.store.UpdateFeeStructure(ctx, s)
	})
	if err != nil {
		b.logger.Error("balance revert failed",
			"fee_structure_id", structureID.String(),
			"amount", amount.String(),
			"error", err,
		)
	}
}

// PendingFee pairs an outstanding fee structure with the student who owes it.
type PendingFee struct {
	Student   *student.Student `json:"student"`
	Structure *fee.Structure   `json:"fee_structure"`
}

// PendingFees lazily yields every structure with a positive pending
// amount, oldest first, joined with the student identity. Structures whose
// student no longer exists are skipped. A store error is yielded once and
// ends the sequence.
func (b *Bursar) PendingFees(ctx context.Context) iter.Seq2[PendingFee, error] {
	return func(yield func(PendingFee, error) bool) {
		after := id.Nil
		for {
			page, err := b.store.ListPendingFeeStructures(ctx, fee.ListOpts{After: after, Limit: pendingPageSize})
			if err != nil {
				yield(PendingFee{}, err)
				return
			}
			for _, s := range page {
				st, err := b.store.GetStudent(ctx, s.StudentID)
				if errors.Is(err, ErrStudentNotFound) {
					continue
				}
				if err != nil {
					yield(PendingFee{}, err)
					return
				}
				if !yield(PendingFee{Student: st, Structure: s}, nil) {
					return
				}
			}
			if len(page) < pendingPageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

// StudentFees is a student's fee structures and recent payments.
type StudentFees struct {
	Student    *student.Student `json:"student"`
	Structures []*fee.Structure `json:"fee_structures"`
	Payments   []*fee.Payment   `json:"payments"`
}

// StudentFees returns the student's structures and up to 50 payments,
// newest first.
func (b *Bursar) StudentFees(ctx context.Context, studentID id.StudentID) (*StudentFees, error) {
	st, err := b.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	structures, err := b.store.ListFeeStructures(ctx, studentID)
	if err != nil {
		return nil, err
	}
	payments, err := b.store.ListFeePayments(ctx, studentID, fee.ListOpts{Limit: studentPaymentsLimit})
	if err != nil {
		return nil, err
	}
	return &StudentFees{Student: st, Structures: structures, Payments: payments}, nil
}

// Totals sums payments collected and fees still pending across all
// structures.
func (b *Bursar) Totals(ctx context.Context) (*fee.Totals, error) {
	return b.store.FeeTotals(ctx, b.currency)
}

// inCurrency puts an amount without a currency into the ledger currency.
func (b *Bursar) inCurrency(m types.Money) types.Money {
	if m.Currency == "" {
		m.Currency = b.currency
	}
	return m
}
