// Package fee models fee structures, their installment schedules and the
// payments recorded against them.
//
// PaidAmount is the only stored balance that payments move. PendingAmount
// and installment statuses are derived from it by Structure.Apply, so a
// structure read from any store can be re-derived and must compare equal.
package fee

import (
	"time"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
)

// Installment is one scheduled part of a structure's net due.
type Installment struct {
	Number  int               `json:"installment_number"`
	Amount  types.Money       `json:"amount"`
	DueDate time.Time         `json:"due_date"`
	Status  InstallmentStatus `json:"status"`
}

// State is the derived payment state of a structure. It is never stored.
type State string

const (
	StateCreated       State = "created"
	StatePartiallyPaid State = "partially_paid"
	StateFullyPaid     State = "fully_paid"
)

// Structure is a student's obligation for one batch enrollment.
//
// Invariants held after every Apply:
//
//	PendingAmount = max(0, NetDue - PaidAmount)
//	PaidAmount + PendingAmount = NetDue, unless overpaid
//
// Version increases on every persisted update and guards concurrent writers.
type Structure struct {
	types.Entity
	ID            id.FeeStructureID `json:"id"`
	StudentID     id.StudentID      `json:"student_id"`
	CourseID      id.CourseID       `json:"course_id"`
	BatchID       id.BatchID        `json:"batch_id"`
	TotalFee      types.Money       `json:"total_fee"`
	Discount      types.Money       `json:"discount_applied"`
	PaidAmount    types.Money       `json:"paid_amount"`
	PendingAmount types.Money       `json:"pending_amount"`
	Installments  []Installment     `json:"installments"`
	Version       int64             `json:"version"`
}

// NetDue is TotalFee less Discount.
func (s *Structure) NetDue() types.Money {
	return s.TotalFee.Subtract(s.Discount)
}

// Apply adds amount to PaidAmount and re-derives every dependent field.
// A zero amount only re-derives.
func (s *Structure) Apply(amount types.Money) {
	s.PaidAmount = s.PaidAmount.Add(amount)
	net := s.NetDue()
	s.PendingAmount = net.Subtract(s.PaidAmount).Floor()

	// installments are settled in order while paid covers their running total
	covered := types.Zero(net.Currency)
	for i := range s.Installments {
		covered = covered.Add(s.Installments[i].Amount)
		if covered.GreaterThan(s.PaidAmount) {
			s.Installments[i].Status = InstallmentPending
		} else {
			s.Installments[i].Status = InstallmentPaid
		}
	}
}

// IsFullyPaid reports whether nothing remains pending.
func (s *Structure) IsFullyPaid() bool { return !s.PendingAmount.IsPositive() }

// IsPartiallyPaid reports whether some but not all of the net due is paid.
func (s *Structure) IsPartiallyPaid() bool {
	return s.PaidAmount.IsPositive() && s.PendingAmount.IsPositive()
}

// State derives the payment state from the amounts.
func (s *Structure) State() State {
	switch {
	case s.IsFullyPaid():
		return StateFullyPaid
	case s.IsPartiallyPaid():
		return StatePartiallyPaid
	default:
		return StateCreated
	}
}

// Overpaid returns how much PaidAmount exceeds NetDue, or zero.
func (s *Structure) Overpaid() types.Money {
	return s.PaidAmount.Subtract(s.NetDue()).Floor()
}

// PaidInstallments counts installments marked paid.
func (s *Structure) PaidInstallments() int {
	n := 0
	for _, in := range s.Installments {
		if in.Status == InstallmentPaid {
			n++
		}
	}
	return n
}

// NextInstallmentNumber is the 1-based position a new payment is labelled
// with.
func (s *Structure) NextInstallmentNumber() int {
	return s.PaidInstallments() + 1
}

// NextDue returns the first pending installment, or nil when settled.
func (s *Structure) NextDue() *Installment {
	for i := range s.Installments {
		if s.Installments[i].Status == InstallmentPending {
			return &s.Installments[i]
		}
	}
	return nil
}

// Schedule splits net across count installments due every interval after
// from. The last installment absorbs the division remainder so the amounts
// sum to net exactly.
func Schedule(net types.Money, count int, from time.Time, interval time.Duration) []Installment {
	parts := net.Split(count)
	out := make([]Installment, count)
	for i, amt := range parts {
		n := i + 1
		out[i] = Installment{
			Number:  n,
			Amount:  amt,
			DueDate: from.Add(time.Duration(n) * interval).UTC(),
			Status:  InstallmentPending,
		}
	}
	return out
}

// Method is how a payment was received.
type Method string

const (
	MethodOnline       Method = "online"
	MethodCash         Method = "cash"
	MethodBankTransfer Method = "bank_transfer"
	MethodUPI          Method = "upi"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodOnline, MethodCash, MethodBankTransfer, MethodUPI:
		return true
	}
	return false
}

// Payment is an append-only record of money received against a structure.
type Payment struct {
	ID                id.FeePaymentID   `json:"id"`
	FeeStructureID    id.FeeStructureID `json:"fee_structure_id"`
	StudentID         id.StudentID      `json:"student_id"`
	Amount            types.Money       `json:"amount"`
	Method            Method            `json:"payment_method"`
	TransactionID     string            `json:"transaction_id,omitempty"`
	InstallmentNumber int               `json:"installment_number"`
	ReceiptNumber     string            `json:"receipt_number"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	PaidAt            time.Time         `json:"payment_date"`
}

// Totals is the ledger-wide sum of collected and outstanding fees.
type Totals struct {
	Collected types.Money `json:"total_collected"`
	Pending   types.Money `json:"total_pending"`
}
