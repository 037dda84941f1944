package fee

import (
	"context"

	"github.com/xraph/bursar/id"
)

// Store persists fee structures and payments.
//
// UpdateFeeStructure writes s only if the stored Version equals s.Version,
// then increments it; a mismatch is reported as a concurrent update.
// CreateFeePayment rejects a duplicate receipt number and a second payment
// with the same non-empty idempotency key on one structure.
// Payments are append-only; there is no update or delete.
type Store interface {
	CreateFeeStructure(ctx context.Context, s *Structure) error
	GetFeeStructure(ctx context.Context, structureID id.FeeStructureID) (*Structure, error)
	GetFeeStructureByEnrollment(ctx context.Context, studentID id.StudentID, batchID id.BatchID) (*Structure, error)
	ListFeeStructures(ctx context.Context, studentID id.StudentID) ([]*Structure, error)
	ListPendingFeeStructures(ctx context.Context, opts ListOpts) ([]*Structure, error)
	UpdateFeeStructure(ctx context.Context, s *Structure) error

	CreateFeePayment(ctx context.Context, p *Payment) error
	GetFeePaymentByIdempotencyKey(ctx context.Context, structureID id.FeeStructureID, key string) (*Payment, error)
	ListFeePayments(ctx context.Context, studentID id.StudentID, opts ListOpts) ([]*Payment, error)

	FeeTotals(ctx context.Context, currency string) (*Totals, error)
}

// ListOpts pages list calls. After is a keyset cursor for
// ListPendingFeeStructures: only structures with a greater ID are returned,
// in ID order.
type ListOpts struct {
	After  id.FeeStructureID
	Limit  int
	Offset int
}
